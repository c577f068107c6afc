// Package callback issues opaque ids for callables that cross the
// isolation boundary. The registering side owns the id; an id is
// meaningless outside its owning registry.
package callback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/weftui/weft/internal/log"
)

// ErrNotFound is returned when invoking a released or unknown id.
var ErrNotFound = errors.New("callback not found")

// Func is the host representation of a callable crossing the boundary.
type Func func(args ...any) (any, error)

// Registry maps fnIds to callables. Ids are unique within the registry's
// lifetime; released ids are never reissued.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	fns    map[int64]Func
	logger *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fns:    make(map[int64]Func),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores fn and returns its id.
func (r *Registry) Register(fn Func) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.fns[id] = fn
	return id
}

// Invoke calls the callable registered under id. Invoking a released id is
// non-fatal: it returns ErrNotFound and the caller decides how to degrade.
func (r *Registry) Invoke(id int64, args ...any) (any, error) {
	r.mu.Lock()
	fn, ok := r.fns[id]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("invoke of unknown callback id %d", id)
		return nil, fmt.Errorf("fnId %d: %w", id, ErrNotFound)
	}
	return fn(args...)
}

// Release removes id. Releasing an unknown id is a no-op.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fns, id)
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fns[id]
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

// Clear removes every entry. Used at teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns = make(map[int64]Func)
}
