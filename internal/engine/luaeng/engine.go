package luaeng

import (
	"context"
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/weftui/weft/internal/engine"
	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/promise"
)

// Engine embeds a Lua interpreter bound to one runtime.
type Engine struct {
	rt     *engine.Runtime
	exec   *executor
	closed atomic.Bool
	logger *log.Logger
}

var _ engine.Substrate = (*Engine)(nil)

// Option configures an Engine.
type Option func(*config)

type config struct {
	queueSize int
	logger    *log.Logger
}

// WithQueueSize bounds the interpreter work queue.
func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New creates an interpreter bound to rt and installs the ui bindings.
func New(rt *engine.Runtime, opts ...Option) (*Engine, error) {
	cfg := &config{queueSize: DefaultQueueSize, logger: log.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{rt: rt, logger: cfg.logger}
	L := lua.NewState()
	e.exec = newExecutor(L, cfg.queueSize)

	err := e.exec.do(context.Background(), func(L *lua.LState) error {
		e.installUI(L)
		return nil
	})
	if err != nil {
		e.exec.close()
		return nil, err
	}
	return e, nil
}

// Evaluate runs a chunk of guest code under the given chunk name.
func (e *Engine) Evaluate(ctx context.Context, name, code string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.exec.do(ctx, func(L *lua.LState) error {
		fn, err := L.Load(strings.NewReader(code), name)
		if err != nil {
			return err
		}
		L.Push(fn)
		return L.PCall(0, lua.MultRet, nil)
	})
}

// SetGlobal binds value under name in the interpreter's global scope.
func (e *Engine) SetGlobal(ctx context.Context, name string, value any) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.exec.do(ctx, func(L *lua.LState) error {
		L.SetGlobal(name, e.toLua(L, value))
		return nil
	})
}

// GetGlobal reads the named global as a Go value.
func (e *Engine) GetGlobal(ctx context.Context, name string) (any, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	var out any
	err := e.exec.do(ctx, func(L *lua.LState) error {
		out = e.toGo(L.GetGlobal(name))
		return nil
	})
	return out, err
}

// Close tears the interpreter down. Pending queue entries fail with
// ErrEngineClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.exec.close()
	return nil
}

// installUI binds the ui table. Indexes crossing the bindings are zero
// based, matching the wire protocol, not Lua convention.
func (e *Engine) installUI(L *lua.LState) {
	ui := L.NewTable()

	bind := func(name string, fn lua.LGFunction) {
		L.SetField(ui, name, L.NewFunction(fn))
	}

	bind("create", func(L *lua.LState) int {
		nodeType := L.CheckString(1)
		props := e.optProps(L, 2)
		id := e.rt.CreateNode(nodeType, props)
		L.Push(lua.LNumber(id))
		return 1
	})

	bind("update", func(L *lua.LState) int {
		id := checkID(L, 1)
		props := e.optProps(L, 2)
		e.rt.UpdateNode(id, props, e.optStrings(L, 3)...)
		return 0
	})

	bind("append", func(L *lua.LState) int {
		e.rt.AppendChild(checkID(L, 1), checkID(L, 2))
		return 0
	})

	bind("insert", func(L *lua.LState) int {
		e.rt.InsertChild(checkID(L, 1), checkID(L, 2), int(L.CheckNumber(3)))
		return 0
	})

	bind("remove", func(L *lua.LState) int {
		e.rt.RemoveChild(checkID(L, 1), checkID(L, 2))
		return 0
	})

	bind("delete", func(L *lua.LState) int {
		e.rt.DeleteNode(checkID(L, 1))
		return 0
	})

	bind("reorder", func(L *lua.LState) int {
		parent := checkID(L, 1)
		t := L.CheckTable(2)
		children := make([]int64, 0, t.Len())
		t.ForEach(func(_, v lua.LValue) {
			if n, ok := v.(lua.LNumber); ok {
				children = append(children, int64(n))
			}
		})
		e.rt.ReorderChildren(parent, children)
		return 0
	})

	bind("text", func(L *lua.LState) int {
		e.rt.SetText(checkID(L, 1), L.CheckString(2))
		return 0
	})

	// ui.call(ref, method, args?, callback?) invokes a method on the live
	// host object behind ref. The callback, if given, receives
	// (result, err) once the reply arrives.
	bind("call", func(L *lua.LState) int {
		refID := checkID(L, 1)
		method := L.CheckString(2)

		var args []any
		if L.GetTop() >= 3 {
			if t, ok := L.Get(3).(*lua.LTable); ok {
				args, _ = e.tableToGo(t, map[*lua.LTable]bool{t: true}).([]any)
			}
		}
		var cb *lua.LFunction
		if L.GetTop() >= 4 {
			cb, _ = L.Get(4).(*lua.LFunction)
		}

		f, err := e.rt.CallRef(refID, method, args)
		if err != nil {
			L.RaiseError("call %s: %v", method, err)
			return 0
		}
		if cb != nil {
			go e.deliverResult(f, cb)
		}
		return 0
	})

	bind("on", func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)
		e.rt.OnEvent(name, func(payload any) {
			perr := e.exec.post(func(L *lua.LState) error {
				L.Push(fn)
				L.Push(e.toLua(L, payload))
				return L.PCall(1, 0, nil)
			})
			if perr != nil {
				e.logger.Warn("delivering event %q: %v", name, perr)
			}
		})
		return 0
	})

	bind("on_config", func(L *lua.LState) int {
		fn := L.CheckFunction(1)
		e.rt.OnConfig(func(cfg map[string]any) {
			perr := e.exec.post(func(L *lua.LState) error {
				L.Push(fn)
				L.Push(e.toLua(L, cfg))
				return L.PCall(1, 0, nil)
			})
			if perr != nil {
				e.logger.Warn("delivering config update: %v", perr)
			}
		})
		return 0
	})

	bind("flush", func(L *lua.LState) int {
		e.rt.Flush()
		return 0
	})

	L.SetGlobal("ui", ui)
}

// deliverResult waits for a reply off the interpreter goroutine, then posts
// the callback invocation back onto it.
func (e *Engine) deliverResult(f *promise.Future, cb *lua.LFunction) {
	value, err := f.Await(context.Background())
	perr := e.exec.post(func(L *lua.LState) error {
		L.Push(cb)
		L.Push(e.toLua(L, value))
		if err != nil {
			L.Push(lua.LString(err.Error()))
		} else {
			L.Push(lua.LNil)
		}
		return L.PCall(2, 0, nil)
	})
	if perr != nil {
		e.logger.Warn("delivering call result: %v", perr)
	}
}

// optStrings reads an optional array table of strings.
func (e *Engine) optStrings(L *lua.LState, pos int) []string {
	if L.GetTop() < pos {
		return nil
	}
	t, ok := L.Get(pos).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	t.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			out = append(out, string(s))
		}
	})
	return out
}
