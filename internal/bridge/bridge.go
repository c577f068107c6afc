// Package bridge wires one side of the host/guest boundary together: a
// value codec, a callable registry, a pending-result table and, on the
// host side, the tree receiver. Everything leaving this side goes through
// Send as a protocol message; everything arriving goes through
// HandleMessage.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weftui/weft/internal/callback"
	"github.com/weftui/weft/internal/codec"
	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/promise"
	"github.com/weftui/weft/internal/protocol"
	"github.com/weftui/weft/internal/tree"
)

// ErrClosed is returned by operations on a bridge after Close.
var ErrClosed = errors.New("bridge closed")

// Send delivers one message to the other side.
type Send func(protocol.Message) error

// Bridge is one endpoint of the boundary.
type Bridge struct {
	id string

	mu     sync.Mutex
	send   Send
	closed bool
	calls  map[string]*promise.Future
	events map[string][]func(payload any)
	config func(map[string]any)

	registry   *callback.Registry
	promises   *promise.Manager
	codec      *codec.Codec
	codecRules []codec.Rule
	receiver   *tree.Receiver
	logger     *log.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger, shared with its codec and managers.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithPromiseTimeout bounds cross-boundary async results. Zero disables.
func WithPromiseTimeout(opts ...promise.Option) Option {
	return func(b *Bridge) { b.promises = promise.NewManager(opts...) }
}

// WithReceiverOptions makes this the host side: inbound batches are decoded
// and applied to a tree receiver built with the given options.
func WithReceiverOptions(opts ...tree.Option) Option {
	return func(b *Bridge) { b.receiver = tree.NewReceiver(opts...) }
}

// WithCodecRule prepends a custom codec rule on this side.
func WithCodecRule(r codec.Rule) Option {
	return func(b *Bridge) { b.codecRules = append(b.codecRules, r) }
}

// New creates a bridge endpoint that delivers outbound traffic via send.
func New(send Send, opts ...Option) *Bridge {
	b := &Bridge{
		id:       uuid.NewString(),
		send:     send,
		calls:    make(map[string]*promise.Future),
		events:   make(map[string][]func(payload any)),
		registry: callback.NewRegistry(),
		logger:   log.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.promises == nil {
		b.promises = promise.NewManager()
	}

	codecOpts := []codec.Option{codec.WithLogger(b.logger)}
	for _, r := range b.codecRules {
		codecOpts = append(codecOpts, codec.WithRule(r))
	}
	b.codec = codec.New(codec.Hooks{
		RegisterFunc:  b.registry.Register,
		InvokeFunc:    b.invoke,
		RegisterAsync: b.registerAsync,
		CreatePending: b.promises.CreatePending,
	}, codecOpts...)

	if b.receiver != nil {
		tree.WithNotify(b.Send)(b.receiver)
		tree.WithRelease(b.releaseRemote)(b.receiver)
		tree.WithLogger(b.logger)(b.receiver)
	}
	return b
}

// ID returns this endpoint's instance id.
func (b *Bridge) ID() string {
	return b.id
}

// Receiver returns the tree receiver, or nil on a guest-side bridge.
func (b *Bridge) Receiver() *tree.Receiver {
	return b.receiver
}

// Codec returns the value codec of this side.
func (b *Bridge) Codec() *codec.Codec {
	return b.codec
}

// Registry returns the local callable registry.
func (b *Bridge) Registry() *callback.Registry {
	return b.registry
}

// ToWire converts a live value to wire form for the other side. A value
// already in wire form passes through untouched, never double-wrapped.
func (b *Bridge) ToWire(v any) any {
	if codec.IsWire(v) {
		return v
	}
	return b.codec.Encode(v)
}

// ToLive converts an inbound value to a live value on this side. A value
// that is not in wire form is normalized by a full encode/decode round
// trip, so callables and futures inside it get ids and proxies either way.
func (b *Bridge) ToLive(v any) any {
	if codec.IsWire(v) {
		return b.codec.Decode(v)
	}
	return b.codec.Decode(b.codec.Encode(v))
}

// Send delivers one message to the other side.
func (b *Bridge) Send(m protocol.Message) error {
	b.mu.Lock()
	closed := b.closed
	send := b.send
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if send == nil {
		return errors.New("bridge has no send hook")
	}
	return send(m)
}

// SendBatch encodes operation payloads and ships a batch.
func (b *Bridge) SendBatch(batch protocol.Batch) error {
	for i := range batch.Operations {
		op := &batch.Operations[i]
		op.Props = b.encodeProps(op.Props)
		for j, arg := range op.Args {
			op.Args[j] = b.ToWire(arg)
		}
	}
	return b.Send(protocol.BatchMessage(batch))
}

func (b *Bridge) encodeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = b.ToWire(v)
	}
	return out
}

// RefCall builds a REF_CALL operation against a live handle on the other
// side and returns the future its reply will settle. The operation still
// has to travel in a batch; enqueue it like any other.
func (b *Bridge) RefCall(refID int64, method string, args []any) (protocol.Operation, *promise.Future, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return protocol.Operation{}, nil, ErrClosed
	}
	callID := uuid.NewString()
	f := promise.NewFuture()
	b.calls[callID] = f

	wireArgs := make([]any, len(args))
	for i, arg := range args {
		wireArgs[i] = b.ToWire(arg)
	}
	return protocol.RefCall(refID, method, wireArgs, callID), f, nil
}

// EmitEvent sends a named event with an encoded payload to the other side.
func (b *Bridge) EmitEvent(name string, payload any) error {
	return b.Send(protocol.HostEvent(name, b.ToWire(payload)))
}

// OnEvent registers a handler for inbound events with the given name.
func (b *Bridge) OnEvent(name string, handler func(payload any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[name] = append(b.events[name], handler)
}

// PushConfig sends a configuration table to the other side.
func (b *Bridge) PushConfig(config map[string]any) error {
	return b.Send(protocol.ConfigUpdate(config))
}

// OnConfig registers the handler for inbound configuration updates.
func (b *Bridge) OnConfig(handler func(map[string]any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = handler
}

// Shutdown tells the other side to tear down, then closes this side.
func (b *Bridge) Shutdown() error {
	err := b.Send(protocol.Destroy())
	b.Close()
	return err
}

// Close releases everything this side holds: in-flight calls and pending
// results are rejected so nothing waits forever, and local callables are
// dropped. Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	calls := b.calls
	b.calls = make(map[string]*promise.Future)
	b.mu.Unlock()

	for _, f := range calls {
		f.Reject(ErrClosed)
	}
	b.promises.Clear(ErrClosed)
	b.registry.Clear()
}

// invoke routes a callable invocation: the local registry wins; anything
// else is forwarded to the side that owns the id. A forwarded call carries
// a correlation id, so the caller gets a future that settles when the
// owning side replies.
func (b *Bridge) invoke(fnID int64, args []any) (any, error) {
	if b.registry.Has(fnID) {
		return b.registry.Invoke(fnID, args...)
	}

	wireArgs := make([]any, len(args))
	for i, arg := range args {
		wireArgs[i] = b.ToWire(arg)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	callID := uuid.NewString()
	f := promise.NewFuture()
	b.calls[callID] = f
	b.mu.Unlock()

	m := protocol.CallFunction(fnID, wireArgs)
	m.CallID = callID
	if err := b.Send(m); err != nil {
		b.mu.Lock()
		delete(b.calls, callID)
		b.mu.Unlock()
		return nil, fmt.Errorf("forwarding call to fn %d: %w", fnID, err)
	}
	return f, nil
}

// registerAsync tracks a locally-owned future crossing the boundary and
// forwards its settlement as a promise message.
func (b *Bridge) registerAsync(f *promise.Future) int64 {
	return b.promises.Register(f, func(id int64, value any, err error) {
		var m protocol.Message
		if err != nil {
			m = protocol.PromiseReject(id, b.ToWire(err))
		} else {
			m = protocol.PromiseResolve(id, b.ToWire(value))
		}
		if serr := b.Send(m); serr != nil {
			b.logger.Warn("forwarding settlement of promise %d: %v", id, serr)
		}
	})
}

// releaseRemote tells the owning side a callable id fell out of the tree.
// Ids are scoped to the registry that minted them, so nothing is released
// locally here; only the owner may retire the entry.
func (b *Bridge) releaseRemote(fnID int64) {
	if err := b.Send(protocol.ReleaseFunction(fnID)); err != nil && !errors.Is(err, ErrClosed) {
		b.logger.Warn("forwarding release of fn %d: %v", fnID, err)
	}
}
