// Package schedule coalesces bursts of operations into time-boxed batches.
// Producers enqueue operations as they are generated; the scheduler merges
// and emits them as numbered batches to a sink, at most once per time
// budget, with an early flush once the pending count hits a cap.
package schedule

import (
	"sync"
	"time"

	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/merge"
	"github.com/weftui/weft/internal/protocol"
)

// Defaults.
const (
	DefaultBudget     = 16 * time.Millisecond
	DefaultMaxPending = 512
)

// State is the scheduler's lifecycle position.
type State int

const (
	// StateIdle means nothing is queued and no flush is scheduled.
	StateIdle State = iota
	// StatePending means operations are queued and a flush is scheduled.
	StatePending
	// StateFlushing means a flush is running.
	StateFlushing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Sink receives each emitted batch.
type Sink func(protocol.Batch)

// Scheduler buffers operations and emits them as batches.
type Scheduler struct {
	// emitMu serializes whole flushes, so batches reach the sink in
	// batch-id order. The sink must not call Flush on the same scheduler.
	emitMu sync.Mutex

	mu sync.Mutex

	ops       []protocol.Operation
	state     State
	lastFlush time.Time
	timer     *time.Timer
	nextBatch uint64
	disposed  bool

	budget       time.Duration
	maxPending   int
	mergeEnabled bool

	sink   Sink
	logger *log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBudget sets the minimum interval between flushes.
func WithBudget(d time.Duration) Option {
	return func(s *Scheduler) { s.budget = d }
}

// WithMaxPending sets the pending count that forces an early flush,
// bounding worst-case latency under bursty mutation.
func WithMaxPending(n int) Option {
	return func(s *Scheduler) { s.maxPending = n }
}

// WithMerge enables or disables operation merging before emission.
func WithMerge(enabled bool) Option {
	return func(s *Scheduler) { s.mergeEnabled = enabled }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a Scheduler delivering batches to sink.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		budget:       DefaultBudget,
		maxPending:   DefaultMaxPending,
		mergeEnabled: true,
		sink:         sink,
		logger:       log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends one operation.
func (s *Scheduler) Enqueue(op protocol.Operation) {
	s.EnqueueAll([]protocol.Operation{op})
}

// EnqueueAll appends operations and schedules a flush: immediately if the
// time budget since the last flush has already elapsed, otherwise after the
// remainder. Hitting the pending cap flushes right away regardless of the
// budget.
func (s *Scheduler) EnqueueAll(ops []protocol.Operation) {
	if len(ops) == 0 {
		return
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.ops = append(s.ops, ops...)

	if len(s.ops) >= s.maxPending {
		s.mu.Unlock()
		s.Flush()
		return
	}

	if s.state == StateIdle {
		s.state = StatePending
		delay := s.budget - time.Since(s.lastFlush)
		if delay < 0 {
			delay = 0
		}
		s.timer = time.AfterFunc(delay, s.Flush)
	}
	s.mu.Unlock()
}

// Flush emits everything pending as one batch. It is idempotent: with
// nothing pending it is a no-op. Concurrent flushes serialize; a batch
// never overtakes a lower-numbered one on its way to the sink.
func (s *Scheduler) Flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.disposed || len(s.ops) == 0 {
		s.mu.Unlock()
		return
	}
	s.state = StateFlushing
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	ops := s.ops
	s.ops = nil
	if s.mergeEnabled {
		ops = merge.Merge(ops)
	}
	s.nextBatch++
	batch := protocol.Batch{
		Version:    protocol.Version,
		BatchID:    s.nextBatch,
		Operations: ops,
	}
	sink := s.sink
	s.lastFlush = time.Now()
	s.mu.Unlock()

	s.logger.Debug("flushing batch %d with %d ops", batch.BatchID, len(batch.Operations))
	if sink != nil {
		sink(batch)
	}

	// Work enqueued while the sink ran saw StateFlushing and did not arm a
	// timer; pick it up here.
	s.mu.Lock()
	s.state = StateIdle
	if len(s.ops) > 0 && !s.disposed {
		s.state = StatePending
		delay := s.budget - time.Since(s.lastFlush)
		if delay < 0 {
			delay = 0
		}
		s.timer = time.AfterFunc(delay, s.Flush)
	}
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingCount returns the number of queued operations.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Dispose cancels any scheduled flush and discards pending operations
// unsent. Further enqueues are dropped.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if n := len(s.ops); n > 0 {
		s.logger.Debug("disposing with %d pending ops discarded", n)
	}
	s.ops = nil
	s.state = StateIdle
}
