// Package promise tracks in-flight asynchronous results by id. Each entry
// settles exactly once, from a boundary message or from the timeout sweep,
// and is removed on settlement. The shape is an RPC client's correlation
// map.
package promise

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weftui/weft/internal/log"
)

// DefaultTimeout bounds a full cross-boundary round trip, not local work,
// so it is generous.
const DefaultTimeout = 30 * time.Second

// Errors returned through rejected futures.
var (
	// ErrTimeout rejects an entry that outlived the configured timeout.
	ErrTimeout = errors.New("async result timed out")

	// ErrDisposed rejects all outstanding entries at teardown.
	ErrDisposed = errors.New("async manager disposed")

	// ErrDuplicateID is returned when CreatePending is given an id that is
	// already pending.
	ErrDuplicateID = errors.New("duplicate promise id")
)

// Future is a single-settlement asynchronous result.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture creates an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles a locally-owned future with a value. Only the first
// settlement, by any path, has effect.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject settles a locally-owned future with an error.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

// settle records the result. Only the first call has any effect.
func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done returns a channel closed on settlement.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until settlement or context cancellation.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled value. ok is false while unsettled.
func (f *Future) Result() (value any, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return nil, nil, false
	}
}

type entry struct {
	future *Future
	timer  *time.Timer
}

// Manager is the pending-result table for one side of the boundary.
type Manager struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*entry
	timeout time.Duration
	logger  *log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the per-entry timeout. Zero disables timeouts.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the manager logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager with DefaultTimeout unless configured
// otherwise.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pending: make(map[int64]*entry),
		timeout: DefaultTimeout,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create mints a new id and an unsettled future for it. Used by the side
// issuing an async boundary call.
func (m *Manager) Create() (int64, *Future) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	f := NewFuture()
	m.track(id, f)
	return id, f
}

// Register assigns an id to a locally-owned future crossing the boundary.
// When it settles, notify reports the settlement so it can be forwarded to
// the other side. The entry is not tracked in the pending table: the local
// owner controls its lifetime, not the timeout sweep.
func (m *Manager) Register(f *Future, notify func(id int64, value any, err error)) int64 {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	if notify != nil {
		go func() {
			<-f.done
			notify(id, f.value, f.err)
		}()
	}
	return id
}

// CreatePending registers a future under an id assigned by the other side,
// which owns the eventual value.
func (m *Manager) CreatePending(id int64) (*Future, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[id]; exists {
		return nil, ErrDuplicateID
	}
	f := NewFuture()
	m.track(id, f)
	return f, nil
}

// track must be called with the lock held.
func (m *Manager) track(id int64, f *Future) {
	e := &entry{future: f}
	if m.timeout > 0 {
		e.timer = time.AfterFunc(m.timeout, func() {
			m.expire(id)
		})
	}
	m.pending[id] = e
}

// expire rejects one entry that outlived the timeout.
func (m *Manager) expire(id int64) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.logger.Warn("promise %d timed out", id)
	e.future.settle(nil, ErrTimeout)
}

// Resolve settles id with a value. A second settlement is a no-op; ok
// reports whether this call settled the entry.
func (m *Manager) Resolve(id int64, value any) bool {
	return m.settle(id, value, nil)
}

// Reject settles id with an error.
func (m *Manager) Reject(id int64, err error) bool {
	return m.settle(id, nil, err)
}

func (m *Manager) settle(id int64, value any, err error) bool {
	m.mu.Lock()
	e, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.future.settle(value, err)
}

// Len returns the number of outstanding entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Clear rejects every outstanding entry so nothing waits forever, then
// empties the table. Used at teardown.
func (m *Manager) Clear(reason error) {
	if reason == nil {
		reason = ErrDisposed
	}

	m.mu.Lock()
	entries := m.pending
	m.pending = make(map[int64]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.future.settle(nil, reason)
	}
}
