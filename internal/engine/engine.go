package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/promise"
	"github.com/weftui/weft/internal/protocol"
	"github.com/weftui/weft/internal/schedule"
)

// ErrRuntimeClosed is returned by operations on a closed runtime.
var ErrRuntimeClosed = errors.New("runtime closed")

// Substrate is one embedded script runtime. Implementations own their
// interpreter state and must be safe to drive from any goroutine.
type Substrate interface {
	// Evaluate runs a chunk of guest code. name labels the chunk in guest
	// stack traces.
	Evaluate(ctx context.Context, name, code string) error

	// SetGlobal binds a named value into the guest environment.
	SetGlobal(ctx context.Context, name string, value any) error

	// GetGlobal reads a named value from the guest environment.
	GetGlobal(ctx context.Context, name string) (any, error)

	// Close tears the interpreter down. Further calls fail.
	Close() error
}

// Runtime is the guest side of the boundary: it mints node ids, builds
// operations with encoded payloads, and throttles them into batches.
type Runtime struct {
	bridge *bridge.Bridge
	sched  *schedule.Scheduler
	nextID atomic.Int64
	closed atomic.Bool
	logger *log.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	schedOpts  []schedule.Option
	bridgeOpts []bridge.Option
	logger     *log.Logger
}

// WithScheduler passes options to the batch scheduler.
func WithScheduler(opts ...schedule.Option) RuntimeOption {
	return func(c *runtimeConfig) { c.schedOpts = append(c.schedOpts, opts...) }
}

// WithBridge passes options to the guest bridge endpoint.
func WithBridge(opts ...bridge.Option) RuntimeOption {
	return func(c *runtimeConfig) { c.bridgeOpts = append(c.bridgeOpts, opts...) }
}

// WithLogger sets the runtime logger.
func WithLogger(logger *log.Logger) RuntimeOption {
	return func(c *runtimeConfig) { c.logger = logger }
}

// NewRuntime creates the guest endpoint delivering outbound traffic via
// send.
func NewRuntime(send bridge.Send, opts ...RuntimeOption) *Runtime {
	cfg := &runtimeConfig{logger: log.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	rt := &Runtime{logger: cfg.logger}
	bridgeOpts := append([]bridge.Option{bridge.WithLogger(cfg.logger)}, cfg.bridgeOpts...)
	rt.bridge = bridge.New(send, bridgeOpts...)

	schedOpts := append([]schedule.Option{
		schedule.WithMerge(true),
		schedule.WithLogger(cfg.logger),
	}, cfg.schedOpts...)
	rt.sched = schedule.New(rt.ship, schedOpts...)
	return rt
}

// ship is the scheduler sink. Payloads were encoded at enqueue time, so the
// batch goes straight out.
func (rt *Runtime) ship(b protocol.Batch) {
	if err := rt.bridge.Send(protocol.BatchMessage(b)); err != nil && !errors.Is(err, bridge.ErrClosed) {
		rt.logger.Warn("shipping batch %d: %v", b.BatchID, err)
	}
}

// Bridge returns the guest bridge endpoint, for wiring inbound traffic.
func (rt *Runtime) Bridge() *bridge.Bridge {
	return rt.bridge
}

// CreateNode mints an id and enqueues its creation. Props are encoded now:
// the snapshot crossing the boundary is the one taken at call time.
func (rt *Runtime) CreateNode(nodeType string, props map[string]any) int64 {
	id := rt.nextID.Add(1)
	rt.enqueue(protocol.Create(id, nodeType, rt.encodeProps(props)))
	return id
}

// UpdateNode enqueues a partial prop update with explicit removals.
func (rt *Runtime) UpdateNode(id int64, props map[string]any, removed ...string) {
	rt.enqueue(protocol.Update(id, rt.encodeProps(props), removed...))
}

// AppendChild enqueues attaching child at the end of parent's children.
// Parent 0 is the root container.
func (rt *Runtime) AppendChild(parentID, childID int64) {
	rt.enqueue(protocol.Append(parentID, childID))
}

// InsertChild enqueues attaching child at index under parent.
func (rt *Runtime) InsertChild(parentID, childID int64, index int) {
	rt.enqueue(protocol.Insert(parentID, childID, index))
}

// RemoveChild enqueues detaching child without destroying it.
func (rt *Runtime) RemoveChild(parentID, childID int64) {
	rt.enqueue(protocol.Remove(parentID, childID))
}

// DeleteNode enqueues destruction of a node and its subtree.
func (rt *Runtime) DeleteNode(id int64) {
	rt.enqueue(protocol.Delete(id))
}

// ReorderChildren enqueues replacing parent's child order.
func (rt *Runtime) ReorderChildren(parentID int64, children []int64) {
	rt.enqueue(protocol.Reorder(parentID, children))
}

// SetText enqueues a text payload for id.
func (rt *Runtime) SetText(id int64, text string) {
	rt.enqueue(protocol.Text(id, text))
}

// CallRef enqueues a method invocation on the live host object behind
// refID and returns the future its reply settles.
func (rt *Runtime) CallRef(refID int64, method string, args []any) (*promise.Future, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	op, f, err := rt.bridge.RefCall(refID, method, args)
	if err != nil {
		return nil, err
	}
	rt.enqueue(op)
	return f, nil
}

// OnEvent registers a handler for host events.
func (rt *Runtime) OnEvent(name string, handler func(payload any)) {
	rt.bridge.OnEvent(name, handler)
}

// OnConfig registers the handler for host configuration pushes.
func (rt *Runtime) OnConfig(handler func(map[string]any)) {
	rt.bridge.OnConfig(handler)
}

// Flush forces pending operations out immediately.
func (rt *Runtime) Flush() {
	rt.sched.Flush()
}

// Close discards pending work, rejects in-flight calls and tears the
// bridge down. Idempotent.
func (rt *Runtime) Close() {
	if rt.closed.Swap(true) {
		return
	}
	rt.sched.Dispose()
	rt.bridge.Close()
}

func (rt *Runtime) enqueue(op protocol.Operation) {
	if rt.closed.Load() {
		return
	}
	rt.sched.Enqueue(op)
}

func (rt *Runtime) encodeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = rt.bridge.ToWire(v)
	}
	return out
}
