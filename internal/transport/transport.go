// Package transport moves protocol messages between the two sides of the
// boundary. The in-process pipe serves embedded guests; the websocket
// transport serves out-of-process ones. Both preserve send order, which the
// batch protocol depends on.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/weftui/weft/internal/protocol"
)

// ErrTransportClosed is returned by Send after Close on either end.
var ErrTransportClosed = errors.New("transport closed")

// DefaultBuffer is how many messages an end can queue before Send blocks.
const DefaultBuffer = 256

// Transport is one end of an ordered, bidirectional message channel. The
// Messages channel is closed when the peer closes or the link drops.
type Transport interface {
	Send(m protocol.Message) error
	Messages() <-chan protocol.Message
	Close() error
}

// Pipe returns two connected in-process ends. Everything sent on one
// arrives, in order, on the other's Messages channel.
func Pipe() (Transport, Transport) {
	ab := make(chan protocol.Message, DefaultBuffer)
	ba := make(chan protocol.Message, DefaultBuffer)
	return &pipeEnd{out: ab, in: ba}, &pipeEnd{out: ba, in: ab}
}

type pipeEnd struct {
	mu     sync.Mutex
	out    chan protocol.Message
	in     chan protocol.Message
	closed bool
}

func (p *pipeEnd) Send(m protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	p.out <- m
	return nil
}

func (p *pipeEnd) Messages() <-chan protocol.Message {
	return p.in
}

// Close closes this end's outbound stream; the peer's Messages channel
// drains and then closes. Idempotent.
func (p *pipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
	return nil
}

// Pump feeds inbound messages to handle until the stream closes or the
// context ends. Handler errors stop the pump and are returned.
func Pump(ctx context.Context, t Transport, handle func(protocol.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-t.Messages():
			if !ok {
				return nil
			}
			if err := handle(m); err != nil {
				return err
			}
		}
	}
}
