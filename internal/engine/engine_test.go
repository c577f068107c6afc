package engine

import (
	"context"
	"testing"
	"time"

	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/protocol"
	"github.com/weftui/weft/internal/schedule"
)

// harness pairs a runtime with a host-side bridge endpoint.
func harness(t *testing.T, opts ...RuntimeOption) (*Runtime, *bridge.Bridge) {
	t.Helper()
	var rt *Runtime
	host := bridge.New(func(m protocol.Message) error {
		return rt.Bridge().HandleMessage(m)
	}, bridge.WithReceiverOptions())
	rt = NewRuntime(host.HandleMessage, opts...)
	t.Cleanup(func() {
		rt.Close()
		host.Close()
	})
	return rt, host
}

func TestRuntimeBuildsHostTree(t *testing.T) {
	rt, host := harness(t)

	panel := rt.CreateNode("panel", map[string]any{"title": "status"})
	label := rt.CreateNode("label", nil)
	rt.AppendChild(protocol.RootID, panel)
	rt.AppendChild(panel, label)
	rt.SetText(label, "ready")
	rt.Flush()

	rendered := host.Receiver().Render()
	if rendered == nil {
		t.Fatal("host tree is empty after flush")
	}
	got := rendered.Children[0]
	if got.Props["title"] != "status" || got.Children[0].Text != "ready" {
		t.Errorf("host tree = %+v", got)
	}
}

func TestRuntimeMintsDistinctIDs(t *testing.T) {
	rt, _ := harness(t)
	a := rt.CreateNode("a", nil)
	b := rt.CreateNode("b", nil)
	if a == b || a == protocol.RootID || b == protocol.RootID {
		t.Errorf("ids = %d, %d", a, b)
	}
}

func TestRuntimeCoalescesUpdates(t *testing.T) {
	rt, host := harness(t)

	id := rt.CreateNode("input", map[string]any{"value": "a"})
	rt.AppendChild(protocol.RootID, id)
	for _, v := range []string{"b", "c", "d"} {
		rt.UpdateNode(id, map[string]any{"value": v})
	}
	rt.Flush()

	stats := host.Receiver().LastStats()
	if stats.PerKind["UPDATE"] != 1 {
		t.Errorf("updates applied = %d, want merged to 1", stats.PerKind["UPDATE"])
	}
	if host.Receiver().Node(id).Props["value"] != "d" {
		t.Errorf("value = %v", host.Receiver().Node(id).Props["value"])
	}
}

func TestRuntimeThrottleFlushesOnBudget(t *testing.T) {
	rt, host := harness(t, WithScheduler(schedule.WithBudget(5*time.Millisecond)))

	id := rt.CreateNode("panel", nil)
	rt.AppendChild(protocol.RootID, id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if host.Receiver().NodeCount() == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("batch never flushed on its own")
}

func TestCallRefRoundTrip(t *testing.T) {
	rt, host := harness(t)

	id := rt.CreateNode("input", nil)
	rt.AppendChild(protocol.RootID, id)
	rt.Flush()
	host.Receiver().RegisterHandle(id, &upper{})

	f, err := rt.CallRef(id, "shout", []any{"hey"})
	if err != nil {
		t.Fatalf("CallRef: %v", err)
	}
	rt.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil || v != "HEY" {
		t.Errorf("ref call = %v, %v", v, err)
	}
}

type upper struct{}

func (upper) Shout(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

func TestClosedRuntimeDropsWork(t *testing.T) {
	rt, host := harness(t)
	rt.Close()

	rt.CreateNode("panel", nil)
	rt.Flush()
	if host.Receiver().NodeCount() != 0 {
		t.Error("closed runtime still shipped operations")
	}

	if _, err := rt.CallRef(1, "m", nil); err == nil {
		t.Error("CallRef on closed runtime succeeded")
	}
}

func TestHostEventReachesRuntime(t *testing.T) {
	rt, host := harness(t)

	got := make(chan any, 1)
	rt.OnEvent("focus", func(payload any) { got <- payload })

	if err := host.EmitEvent("focus", "editor"); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	select {
	case v := <-got:
		if v != "editor" {
			t.Errorf("payload = %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}
