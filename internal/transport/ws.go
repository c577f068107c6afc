package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/protocol"
)

// WebSocket timing. The peer must answer a ping within pongWait or the
// link is considered dropped.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WS carries protocol messages over one websocket connection, with a write
// pump serializing frames and a read pump feeding Messages.
type WS struct {
	conn   *websocket.Conn
	send   chan protocol.Message
	recv   chan protocol.Message
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// WSOption configures a websocket transport.
type WSOption func(*WS)

// WithLogger sets the transport logger.
func WithLogger(logger *log.Logger) WSOption {
	return func(w *WS) { w.logger = logger }
}

// Dial connects to a boundary endpoint serving websockets.
func Dial(ctx context.Context, url string, opts ...WSOption) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWS(conn, opts...), nil
}

// Upgrade accepts an inbound websocket and wraps it.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...WSOption) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWS(conn, opts...), nil
}

// NewWS wraps an established connection and starts its pumps.
func NewWS(conn *websocket.Conn, opts ...WSOption) *WS {
	ws := &WS{
		conn:   conn,
		send:   make(chan protocol.Message, DefaultBuffer),
		recv:   make(chan protocol.Message, DefaultBuffer),
		done:   make(chan struct{}),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(ws)
	}
	go ws.readPump()
	go ws.writePump()
	return ws
}

// Send queues one message for the write pump. The done check runs alone
// first: after Close the buffered send can still be ready, and a combined
// select may pick it and drop the message with a nil error.
func (w *WS) Send(m protocol.Message) error {
	select {
	case <-w.done:
		return ErrTransportClosed
	default:
	}
	select {
	case <-w.done:
		return ErrTransportClosed
	case w.send <- m:
		return nil
	}
}

// Messages returns the inbound stream. It closes when the link drops.
func (w *WS) Messages() <-chan protocol.Message {
	return w.recv
}

// Close tears the connection down. Idempotent.
func (w *WS) Close() error {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
	return nil
}

func (w *WS) readPump() {
	defer func() {
		w.Close()
		close(w.recv)
	}()

	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var m protocol.Message
		if err := w.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("websocket read: %v", err)
			}
			return
		}
		select {
		case w.recv <- m:
		case <-w.done:
			return
		}
	}
}

func (w *WS) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.Close()
	}()

	for {
		select {
		case <-w.done:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(m); err != nil {
				w.logger.Warn("websocket write: %v", err)
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
