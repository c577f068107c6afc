package tree

import (
	"fmt"
	"reflect"
	"unicode"

	"github.com/weftui/weft/internal/promise"
	"github.com/weftui/weft/internal/protocol"
)

// RegisterHandle exposes a live host object for REF_CALL under refID,
// typically the materialized component of the node with that id.
func (r *Receiver) RegisterHandle(refID int64, handle any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[refID] = handle
}

// ReleaseHandle removes a handle. Releasing an unknown id is a no-op.
func (r *Receiver) ReleaseHandle(refID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, refID)
}

// applyRefCall invokes the named method on a live handle and sends the
// result or a serialized error back, tagged with the original callId. The
// reply is always a REF_METHOD_RESULT message, never a thrown exception: a
// missing handle or method yields a descriptive error result.
func (r *Receiver) applyRefCall(op protocol.Operation) error {
	handle, ok := r.handles[op.RefID]
	notify := r.notify

	if notify == nil {
		return fmt.Errorf("ref %d call %s: no reply channel wired", op.RefID, op.Method)
	}
	if !ok {
		_ = notify(protocol.RefMethodResult(op.RefID, op.CallID, nil,
			fmt.Sprintf("no live handle for ref %d", op.RefID)))
		return nil
	}

	// Invocation happens off the tree's turn: REF_CALL is the one
	// inherently asynchronous kind, and the method may block.
	go invokeHandle(handle, op, notify)
	return nil
}

// invokeHandle runs the method and delivers the reply. Guest misbehavior
// must never crash the host, so panics become error results.
func invokeHandle(handle any, op protocol.Operation, notify Notify) {
	defer func() {
		if rec := recover(); rec != nil {
			_ = notify(protocol.RefMethodResult(op.RefID, op.CallID, nil,
				fmt.Sprintf("method %s panicked: %v", op.Method, rec)))
		}
	}()

	result, err := callMethod(handle, op.Method, op.Args)
	if err != nil {
		_ = notify(protocol.RefMethodResult(op.RefID, op.CallID, nil, err.Error()))
		return
	}

	// An async method hands back a future; the reply waits for settlement.
	if f, ok := result.(*promise.Future); ok {
		<-f.Done()
		value, ferr, _ := f.Result()
		if ferr != nil {
			_ = notify(protocol.RefMethodResult(op.RefID, op.CallID, nil, ferr.Error()))
			return
		}
		result = value
	}
	_ = notify(protocol.RefMethodResult(op.RefID, op.CallID, result, nil))
}

// callMethod resolves method on handle by reflection. Guest method names
// are lower-case; the exported Go form is tried as well.
func callMethod(handle any, method string, args []any) (any, error) {
	rv := reflect.ValueOf(handle)
	m := rv.MethodByName(method)
	if !m.IsValid() {
		m = rv.MethodByName(exportedName(method))
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("handle %T has no method %q", handle, method)
	}

	mt := m.Type()
	if mt.IsVariadic() {
		if len(args) < mt.NumIn()-1 {
			return nil, fmt.Errorf("method %q wants at least %d args, got %d", method, mt.NumIn()-1, len(args))
		}
	} else if len(args) != mt.NumIn() {
		return nil, fmt.Errorf("method %q wants %d args, got %d", method, mt.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var paramType reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			paramType = mt.In(mt.NumIn() - 1).Elem()
		} else {
			paramType = mt.In(i)
		}
		av, err := argValue(arg, paramType)
		if err != nil {
			return nil, fmt.Errorf("method %q arg %d: %w", method, i, err)
		}
		in[i] = av
	}

	out := m.Call(in)
	return methodResult(out)
}

// argValue coerces one decoded argument to the parameter type.
func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if av.Type().ConvertibleTo(t) {
		return av.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

// methodResult normalizes the supported return shapes: (), (T), (error),
// (T, error).
func methodResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	case 2:
		var err error
		if e, ok := out[1].Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	default:
		return nil, fmt.Errorf("unsupported method arity: %d results", len(out))
	}
}

func exportedName(method string) string {
	if method == "" {
		return method
	}
	runes := []rune(method)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
