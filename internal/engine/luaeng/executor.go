package luaeng

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ErrEngineClosed is returned when the interpreter has been torn down.
var ErrEngineClosed = errors.New("lua engine closed")

// DefaultQueueSize bounds how many posted operations can wait for the
// interpreter goroutine.
const DefaultQueueSize = 128

type task struct {
	fn   func(L *lua.LState) error
	done chan error
}

// executor serializes all interpreter access onto one goroutine, which is
// the only safe way to drive an LState from concurrent callers.
type executor struct {
	L      *lua.LState
	queue  chan task
	quit   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup
}

func newExecutor(L *lua.LState, queueSize int) *executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &executor{
		L:     L,
		queue: make(chan task, queueSize),
		quit:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// run owns the interpreter until close. The state is closed here, on its
// own goroutine, never by the caller.
func (e *executor) run() {
	defer e.wg.Done()
	defer e.L.Close()

	for {
		select {
		case <-e.quit:
			e.drain()
			return
		case t := <-e.queue:
			t.done <- e.exec(t.fn)
		}
	}
}

// exec runs one operation with panic containment: a guest that blows up
// takes its task down, not the host.
func (e *executor) exec(fn func(L *lua.LState) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(e.L)
}

func (e *executor) drain() {
	for {
		select {
		case t := <-e.queue:
			t.done <- ErrEngineClosed
		default:
			return
		}
	}
}

// do runs fn on the interpreter goroutine and waits for it.
func (e *executor) do(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrEngineClosed
	case e.queue <- t:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-t.done:
		return err
	case <-e.quit:
		// The loop may have exited between enqueue and pickup.
		select {
		case err := <-t.done:
			return err
		default:
			return ErrEngineClosed
		}
	}
}

// post queues fn without waiting. Used for inbound callback invocations,
// which are fire and forget.
func (e *executor) post(fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case <-e.quit:
		return ErrEngineClosed
	case e.queue <- t:
		go func() {
			select {
			case <-t.done:
			case <-e.quit:
			}
		}()
		return nil
	default:
		return errors.New("lua queue full")
	}
}

// close stops the loop and waits for the interpreter to shut down.
func (e *executor) close() {
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.quit)
	})
	e.wg.Wait()
}
