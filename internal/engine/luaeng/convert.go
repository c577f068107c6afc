package luaeng

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/weftui/weft/internal/callback"
	"github.com/weftui/weft/internal/codec"
	"github.com/weftui/weft/internal/promise"
)

// toGo converts a Lua value to its Go form. Tables become slices when their
// keys are a contiguous 1..n range and string-keyed maps otherwise. The
// visited set tracks the current path only, so a shared acyclic subtable
// converts at every occurrence while a true cycle breaks at the repeat.
// Functions become callables that post back onto the interpreter goroutine.
func (e *Engine) toGo(lv lua.LValue) any {
	return e.toGoVisited(lv, make(map[*lua.LTable]bool))
}

func (e *Engine) toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LFunction:
		return e.wrapLuaFunc(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		out := e.tableToGo(v, visited)
		delete(visited, v)
		return out
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (e *Engine) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	if n := arrayLen(t); n >= 0 {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = e.toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = e.toGoVisited(v, visited)
	})
	return m
}

// arrayLen returns the length of t as a contiguous 1..n array, or -1 when
// the table has any other key shape. An empty table is a map.
func arrayLen(t *lua.LTable) int {
	maxN, count := 0, 0
	sequential := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok || float64(kn) != float64(int(kn)) || int(kn) < 1 {
			sequential = false
			return
		}
		if int(kn) > maxN {
			maxN = int(kn)
		}
	})
	if !sequential || count == 0 || count != maxN {
		return -1
	}
	return maxN
}

// wrapLuaFunc turns a guest function into a callable the host can invoke.
// Invocation posts onto the interpreter goroutine; the result is discarded,
// matching fire-and-forget callback semantics.
func (e *Engine) wrapLuaFunc(fn *lua.LFunction) callback.Func {
	return func(args ...any) (any, error) {
		err := e.exec.post(func(L *lua.LState) error {
			L.Push(fn)
			for _, a := range args {
				L.Push(e.toLua(L, a))
			}
			return L.PCall(len(args), 0, nil)
		})
		return nil, err
	}
}

// toLua converts a Go value to its Lua form. Must run on the interpreter
// goroutine.
func (e *Engine) toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Time:
		return lua.LNumber(val.UnixMilli())
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, e.toLua(L, item))
		}
		return t
	case codec.Set:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, e.toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, e.toLua(L, item))
		}
		return t
	case *codec.FuncProxy:
		return L.NewFunction(func(L *lua.LState) int {
			args := make([]any, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				args[i-1] = e.toGo(L.Get(i))
			}
			result, err := val.Call(args...)
			if err != nil {
				L.RaiseError("remote call failed: %v", err)
				return 0
			}
			L.Push(e.toLua(L, result))
			return 1
		})
	case *promise.Future:
		ud := L.NewUserData()
		ud.Value = val
		return ud
	case error:
		return lua.LString(val.Error())
	case lua.LValue:
		return val
	default:
		ud := L.NewUserData()
		ud.Value = val
		return ud
	}
}

// checkID reads a numeric node id from the stack.
func checkID(L *lua.LState, pos int) int64 {
	return int64(L.CheckNumber(pos))
}

// optTable reads an optional table argument as a Go map.
func (e *Engine) optProps(L *lua.LState, pos int) map[string]any {
	if L.GetTop() < pos {
		return nil
	}
	lv := L.Get(pos)
	if lv == lua.LNil {
		return nil
	}
	t, ok := lv.(*lua.LTable)
	if !ok {
		L.ArgError(pos, fmt.Sprintf("table expected, got %s", lv.Type()))
		return nil
	}
	m, ok := e.tableToGo(t, map[*lua.LTable]bool{t: true}).(map[string]any)
	if !ok {
		L.ArgError(pos, "props must be a table with string keys")
		return nil
	}
	return m
}
