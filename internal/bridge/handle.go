package bridge

import (
	"errors"
	"fmt"

	"github.com/weftui/weft/internal/codec"
	"github.com/weftui/weft/internal/protocol"
)

// HandleMessage dispatches one inbound message. Unknown kinds are logged
// and dropped; the boundary tolerates peers speaking a newer dialect.
func (b *Bridge) HandleMessage(m protocol.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	switch m.Kind {
	case protocol.MsgBatch:
		return b.handleBatch(m)
	case protocol.MsgCallFunction:
		return b.handleCall(m)
	case protocol.MsgReleaseFunction:
		b.registry.Release(m.FnID)
		return nil
	case protocol.MsgPromiseResolve:
		if !b.promises.Resolve(m.PromiseID, b.ToLive(m.Value)) {
			b.logger.Debug("resolve for unknown promise %d", m.PromiseID)
		}
		return nil
	case protocol.MsgPromiseReject:
		if !b.promises.Reject(m.PromiseID, b.liveError(m.Error)) {
			b.logger.Debug("reject for unknown promise %d", m.PromiseID)
		}
		return nil
	case protocol.MsgRefMethodResult:
		return b.handleRefResult(m)
	case protocol.MsgHostEvent:
		b.handleEvent(m)
		return nil
	case protocol.MsgConfigUpdate:
		b.handleConfig(m)
		return nil
	case protocol.MsgBackpressure:
		b.logger.Warn("peer skipped %d operations; slow down", m.Skipped)
		return nil
	case protocol.MsgDestroy:
		b.Close()
		return nil
	default:
		b.logger.Warn("dropping message of unknown kind %q", m.Kind)
		return nil
	}
}

// handleBatch decodes operation payloads and applies the batch to the
// receiver. Guest-side bridges have no receiver and reject batches.
func (b *Bridge) handleBatch(m protocol.Message) error {
	if b.receiver == nil {
		return fmt.Errorf("batch received on a side without a tree")
	}
	if m.Batch == nil {
		return fmt.Errorf("batch message without a batch")
	}

	batch := *m.Batch
	ops := make([]protocol.Operation, len(batch.Operations))
	copy(ops, batch.Operations)
	for i := range ops {
		op := &ops[i]
		op.Props = b.decodeProps(op.Props)
		for j, arg := range op.Args {
			op.Args[j] = b.ToLive(arg)
		}
	}
	batch.Operations = ops

	b.receiver.ApplyBatch(batch)
	return nil
}

func (b *Bridge) decodeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = b.ToLive(v)
	}
	return out
}

// handleCall invokes a local callable on behalf of the other side. A call
// carrying a correlation id gets its result or error sent back; without
// one the result is discarded.
func (b *Bridge) handleCall(m protocol.Message) error {
	args := make([]any, len(m.Args))
	for i, a := range m.Args {
		args[i] = b.ToLive(a)
	}
	result, err := b.registry.Invoke(m.FnID, args...)
	if err != nil {
		b.logger.Warn("invoking fn %d: %v", m.FnID, err)
	}
	if m.CallID == "" {
		return nil
	}

	var reply protocol.Message
	if err != nil {
		reply = protocol.RefMethodResult(0, m.CallID, nil, err.Error())
	} else {
		reply = protocol.RefMethodResult(0, m.CallID, b.ToWire(result), nil)
	}
	if serr := b.Send(reply); serr != nil && !errors.Is(serr, ErrClosed) {
		b.logger.Warn("replying to call of fn %d: %v", m.FnID, serr)
	}
	return nil
}

// handleRefResult settles the in-flight call the reply correlates to.
func (b *Bridge) handleRefResult(m protocol.Message) error {
	b.mu.Lock()
	f, ok := b.calls[m.CallID]
	if ok {
		delete(b.calls, m.CallID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("result for unknown call %q", m.CallID)
		return nil
	}
	if m.Error != nil {
		f.Reject(b.liveError(m.Error))
	} else {
		f.Resolve(b.ToLive(m.Result))
	}
	return nil
}

func (b *Bridge) handleEvent(m protocol.Message) {
	b.mu.Lock()
	handlers := append([]func(payload any){}, b.events[m.EventName]...)
	b.mu.Unlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handler for event %q", m.EventName)
		return
	}
	payload := b.ToLive(m.Payload)
	for _, h := range handlers {
		h(payload)
	}
}

func (b *Bridge) handleConfig(m protocol.Message) {
	b.mu.Lock()
	handler := b.config
	b.mu.Unlock()

	if handler == nil {
		b.logger.Debug("config update with no handler")
		return
	}
	handler(m.Config)
}

// liveError turns a wire error payload into an error value. Strings become
// remote errors with just a message; tagged wrappers decode fully.
func (b *Bridge) liveError(wire any) error {
	switch v := b.ToLive(wire).(type) {
	case nil:
		return nil
	case error:
		return v
	case string:
		return &codec.RemoteError{Message: v}
	default:
		return &codec.RemoteError{Message: fmt.Sprintf("%v", v)}
	}
}
