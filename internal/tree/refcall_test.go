package tree

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/weftui/weft/internal/promise"
	"github.com/weftui/weft/internal/protocol"
)

type fakeWidget struct {
	mu    sync.Mutex
	value string
}

func (w *fakeWidget) SetValue(v string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.value = v
}

func (w *fakeWidget) Value() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

func (w *fakeWidget) Add(a, b int) int { return a + b }

func (w *fakeWidget) Fail() error { return errors.New("widget broke") }

func (w *fakeWidget) Explode() { panic("boom") }

func (w *fakeWidget) Load() *promise.Future {
	f := promise.NewFuture()
	go func() { f.Resolve("loaded") }()
	return f
}

type refCollector struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *refCollector) notify(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *refCollector) all() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

func byCallID(callID string) func(protocol.Message) bool {
	return func(m protocol.Message) bool {
		return m.Kind == protocol.MsgRefMethodResult && m.CallID == callID
	}
}

func TestRefCallInvokesMethod(t *testing.T) {
	c := &refCollector{}
	r := NewReceiver(WithNotify(c.notify))
	w := &fakeWidget{}

	r.ApplyBatch(batch(protocol.Create(1, "input", nil)))
	r.RegisterHandle(1, w)

	r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
		protocol.RefCall(1, "setValue", []any{"typed"}, "call-1"),
	}})

	m := waitForMessage(t, c.all, byCallID("call-1"))
	if m.Error != nil {
		t.Fatalf("unexpected error result: %v", m.Error)
	}
	if got := w.Value(); got != "typed" {
		t.Errorf("widget value = %q", got)
	}
}

func TestRefCallReturnsValueAndCoercesArgs(t *testing.T) {
	c := &refCollector{}
	r := NewReceiver(WithNotify(c.notify))
	r.ApplyBatch(batch(protocol.Create(1, "calc", nil)))
	r.RegisterHandle(1, &fakeWidget{})

	// Numbers decoded from JSON arrive as float64.
	r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
		protocol.RefCall(1, "add", []any{float64(2), float64(3)}, "call-2"),
	}})

	m := waitForMessage(t, c.all, byCallID("call-2"))
	if m.Error != nil {
		t.Fatalf("error result: %v", m.Error)
	}
	if m.Result != 5 {
		t.Errorf("result = %v (%T), want 5", m.Result, m.Result)
	}
}

func TestRefCallErrorShapes(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		wantErr string
	}{
		{"method returns error", "fail", "widget broke"},
		{"method panics", "explode", "panicked"},
		{"no such method", "nothing", "no method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &refCollector{}
			r := NewReceiver(WithNotify(c.notify))
			r.ApplyBatch(batch(protocol.Create(1, "w", nil)))
			r.RegisterHandle(1, &fakeWidget{})

			callID := "call-" + tt.method
			r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
				protocol.RefCall(1, tt.method, nil, callID),
			}})

			m := waitForMessage(t, c.all, byCallID(callID))
			errStr, _ := m.Error.(string)
			if !strings.Contains(errStr, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", errStr, tt.wantErr)
			}
			if m.Result != nil {
				t.Errorf("result = %v alongside error", m.Result)
			}
		})
	}
}

func TestRefCallMissingHandleRepliesWithCallID(t *testing.T) {
	c := &refCollector{}
	r := NewReceiver(WithNotify(c.notify))

	stats := r.ApplyBatch(batch(
		protocol.RefCall(7, "setValue", []any{"x"}, "call-missing"),
	))
	// The operation is handled: the error travels in the reply, not in
	// batch stats.
	if stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	m := waitForMessage(t, c.all, byCallID("call-missing"))
	errStr, _ := m.Error.(string)
	if !strings.Contains(errStr, "no live handle") {
		t.Errorf("error = %q", errStr)
	}
	if m.RefID != 7 {
		t.Errorf("refId = %d", m.RefID)
	}
}

func TestRefCallAwaitsFutureResult(t *testing.T) {
	c := &refCollector{}
	r := NewReceiver(WithNotify(c.notify))
	r.ApplyBatch(batch(protocol.Create(1, "loader", nil)))
	r.RegisterHandle(1, &fakeWidget{})

	r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
		protocol.RefCall(1, "load", nil, "call-async"),
	}})

	m := waitForMessage(t, c.all, byCallID("call-async"))
	if m.Result != "loaded" {
		t.Errorf("result = %v, want settled future value", m.Result)
	}
}

func TestRefCallWithoutNotifyFails(t *testing.T) {
	r := NewReceiver()
	r.ApplyBatch(batch(protocol.Create(1, "w", nil)))
	r.RegisterHandle(1, &fakeWidget{})

	stats := r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
		protocol.RefCall(1, "setValue", []any{"x"}, "call-x"),
	}})
	if stats.Failed != 1 {
		t.Errorf("stats = %+v, want the call counted failed", stats)
	}
}

func TestHandleLifecycle(t *testing.T) {
	c := &refCollector{}
	r := NewReceiver(WithNotify(c.notify))
	r.ApplyBatch(batch(protocol.Create(1, "w", nil)))
	r.RegisterHandle(1, &fakeWidget{})

	// Deleting the node drops its handle too.
	r.ApplyBatch(protocol.Batch{BatchID: 2, Operations: []protocol.Operation{
		protocol.Delete(1),
	}})
	r.ApplyBatch(protocol.Batch{BatchID: 3, Operations: []protocol.Operation{
		protocol.RefCall(1, "setValue", []any{"x"}, "call-gone"),
	}})

	m := waitForMessage(t, c.all, byCallID("call-gone"))
	if errStr, _ := m.Error.(string); !strings.Contains(errStr, "no live handle") {
		t.Errorf("error = %v", m.Error)
	}

	// Releasing an unknown handle is a no-op.
	r.ReleaseHandle(99)
}

func TestExportedName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"setValue", "SetValue"},
		{"add", "Add"},
		{"Already", "Already"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := exportedName(tt.in); got != tt.want {
			t.Errorf("exportedName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMethodResultShapes(t *testing.T) {
	w := &fakeWidget{}

	if _, err := callMethod(w, "setValue", []any{"a"}); err != nil {
		t.Errorf("void method: %v", err)
	}
	if v, err := callMethod(w, "value", nil); err != nil || v != "a" {
		t.Errorf("value method = %v, %v", v, err)
	}
	if _, err := callMethod(w, "fail", nil); err == nil {
		t.Error("error-only method lost its error")
	}
	if _, err := callMethod(w, "add", []any{1}); err == nil {
		t.Error("arity mismatch accepted")
	}
	if _, err := callMethod(w, "add", []any{"x", "y"}); err == nil {
		t.Error("uncoercible args accepted")
	}
}

func TestCallMethodVariadic(t *testing.T) {
	j := &joiner{}
	v, err := callMethod(j, "join", []any{"a", "b", "c"})
	if err != nil {
		t.Fatalf("variadic call: %v", err)
	}
	if v != "a,b,c" {
		t.Errorf("result = %v", v)
	}

	if _, err := callMethod(j, "join", nil); err != nil {
		t.Errorf("zero variadic args: %v", err)
	}
}

type joiner struct{}

func (joiner) Join(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
