package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weftui/weft/internal/protocol"
)

func TestPipePreservesOrder(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	for i := 0; i < 10; i++ {
		if err := a.Send(protocol.HostEvent("e", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case m := <-b.Messages():
			if m.Payload != i {
				t.Fatalf("message %d carried %v", i, m.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("message never arrived")
		}
	}
}

func TestPipeCloseSemantics(t *testing.T) {
	a, b := Pipe()

	if err := a.Send(protocol.Destroy()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := a.Send(protocol.Destroy()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after close = %v", err)
	}

	// The queued message drains, then the stream closes.
	if m, ok := <-b.Messages(); !ok || m.Kind != protocol.MsgDestroy {
		t.Errorf("drained message = %+v, %v", m, ok)
	}
	if _, ok := <-b.Messages(); ok {
		t.Error("stream still open after peer close")
	}
}

func TestPump(t *testing.T) {
	a, b := Pipe()
	defer b.Close()

	var mu sync.Mutex
	var got []protocol.MessageKind
	done := make(chan error, 1)
	go func() {
		done <- Pump(context.Background(), b, func(m protocol.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, m.Kind)
			return nil
		})
	}()

	a.Send(protocol.HostEvent("x", nil))
	a.Send(protocol.Destroy())
	a.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Pump: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pump never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != protocol.MsgHostEvent || got[1] != protocol.MsgDestroy {
		t.Errorf("handled = %v", got)
	}
}

func TestPumpStopsOnHandlerError(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	boom := errors.New("boom")
	a.Send(protocol.Destroy())

	err := Pump(context.Background(), b, func(protocol.Message) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Pump = %v", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	serverSide := make(chan *WS, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		serverSide <- ws
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := <-serverSide
	defer server.Close()

	if err := client.Send(protocol.HostEvent("hello", map[string]any{"n": float64(1)})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case m := <-server.Messages():
		if m.Kind != protocol.MsgHostEvent || m.EventName != "hello" {
			t.Errorf("message = %+v", m)
		}
		payload, ok := m.Payload.(map[string]any)
		if !ok || payload["n"] != float64(1) {
			t.Errorf("payload = %v", m.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never crossed")
	}

	// The reverse direction works on the same connection.
	if err := server.Send(protocol.Backpressure(3)); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	select {
	case m := <-client.Messages():
		if m.Kind != protocol.MsgBackpressure || m.Skipped != 3 {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply never crossed")
	}
}

func TestWebSocketCloseEndsStream(t *testing.T) {
	serverSide := make(chan *WS, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r)
		if err != nil {
			return
		}
		serverSide <- ws
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server := <-serverSide

	client.Close()
	// The send buffer may still have room after close; every attempt must
	// error, never silently queue.
	for i := 0; i < 8; i++ {
		if err := client.Send(protocol.Destroy()); !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("Send %d after close = %v", i, err)
		}
	}

	select {
	case _, ok := <-server.Messages():
		if ok {
			t.Error("expected stream end after peer close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server stream never closed")
	}
	server.Close()
}
