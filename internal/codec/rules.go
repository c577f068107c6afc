package codec

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/weftui/weft/internal/callback"
	"github.com/weftui/weft/internal/promise"
)

// defaultRules returns the built-in rule list. Order matters: specific
// shapes come before containers, containers before the reflection
// fallback.
func defaultRules() []Rule {
	return []Rule{
		primitiveRule{},
		funcRule{},
		promiseRule{},
		dateRule{},
		regexpRule{},
		setRule{},
		anyMapRule{},
		errorRule{},
		arrayRule{},
		objectRule{},
		reflectRule{},
	}
}

// primitiveRule passes primitives through untouched.
type primitiveRule struct{}

func (primitiveRule) Name() string { return "primitive" }
func (primitiveRule) Tag() string  { return "" }

func (primitiveRule) AppliesTo(v any) bool {
	switch v.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func (primitiveRule) Encode(_ *Context, v any) (any, error) {
	return v, nil
}

func (primitiveRule) Decode(_ *Context, _ map[string]any) (any, error) {
	return nil, errors.New("primitive rule has no tag")
}

// funcRule replaces callables with opaque fnIds. Decoding yields a proxy
// that routes invocation through the owning registry; the closure itself
// never crosses.
type funcRule struct{}

func (funcRule) Name() string { return "function" }
func (funcRule) Tag() string  { return TagFunction }

func (funcRule) AppliesTo(v any) bool {
	switch v.(type) {
	case callback.Func, func(...any) (any, error), *FuncProxy:
		return true
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

func (funcRule) Encode(ctx *Context, v any) (any, error) {
	switch fn := v.(type) {
	case *FuncProxy:
		// Re-encoding a decoded proxy: the id already belongs to the
		// owning registry. Registering again would leak.
		return map[string]any{TagKey: TagFunction, "__fnId": fn.FnID}, nil
	case callback.Func:
		return registerFunc(ctx, fn)
	case func(...any) (any, error):
		return registerFunc(ctx, callback.Func(fn))
	default:
		return nil, fmt.Errorf("unsupported callable signature %T", v)
	}
}

func registerFunc(ctx *Context, fn callback.Func) (any, error) {
	hooks := ctx.Hooks()
	if hooks.RegisterFunc == nil {
		return nil, errors.New("no function registration hook")
	}
	id := hooks.RegisterFunc(fn)
	return map[string]any{TagKey: TagFunction, "__fnId": id}, nil
}

func (funcRule) Decode(ctx *Context, w map[string]any) (any, error) {
	id, ok := asInt64(w["__fnId"])
	if !ok {
		return nil, errors.New("function wrapper missing __fnId")
	}
	return &FuncProxy{FnID: id, invoke: ctx.Hooks().InvokeFunc}, nil
}

// promiseRule ferries pending async results by id.
type promiseRule struct{}

func (promiseRule) Name() string { return "promise" }
func (promiseRule) Tag() string  { return TagPromise }

func (promiseRule) AppliesTo(v any) bool {
	_, ok := v.(*promise.Future)
	return ok
}

func (promiseRule) Encode(ctx *Context, v any) (any, error) {
	hooks := ctx.Hooks()
	if hooks.RegisterAsync == nil {
		return nil, errors.New("no async registration hook")
	}
	id := hooks.RegisterAsync(v.(*promise.Future))
	return map[string]any{TagKey: TagPromise, "__promiseId": id}, nil
}

func (promiseRule) Decode(ctx *Context, w map[string]any) (any, error) {
	id, ok := asInt64(w["__promiseId"])
	if !ok {
		return nil, errors.New("promise wrapper missing __promiseId")
	}
	hooks := ctx.Hooks()
	if hooks.CreatePending == nil {
		return nil, errors.New("no pending-result hook")
	}
	return hooks.CreatePending(id)
}

// dateRule captures instants as epoch milliseconds.
type dateRule struct{}

func (dateRule) Name() string { return "date" }
func (dateRule) Tag() string  { return TagDate }

func (dateRule) AppliesTo(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func (dateRule) Encode(_ *Context, v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		p := v.(*time.Time)
		if p == nil {
			return nil, nil
		}
		t = *p
	}
	return map[string]any{TagKey: TagDate, "epochMs": t.UnixMilli()}, nil
}

func (dateRule) Decode(_ *Context, w map[string]any) (any, error) {
	ms, ok := asInt64(w["epochMs"])
	if !ok {
		return nil, errors.New("date wrapper missing epochMs")
	}
	return time.UnixMilli(ms).UTC(), nil
}

// regexpRule captures a pattern's source text.
type regexpRule struct{}

func (regexpRule) Name() string { return "regexp" }
func (regexpRule) Tag() string  { return TagRegexp }

func (regexpRule) AppliesTo(v any) bool {
	_, ok := v.(*regexp.Regexp)
	return ok
}

func (regexpRule) Encode(_ *Context, v any) (any, error) {
	re := v.(*regexp.Regexp)
	if re == nil {
		return nil, nil
	}
	return map[string]any{TagKey: TagRegexp, "source": re.String()}, nil
}

func (regexpRule) Decode(_ *Context, w map[string]any) (any, error) {
	source, ok := w["source"].(string)
	if !ok {
		return nil, errors.New("regexp wrapper missing source")
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("recompiling %q: %w", source, err)
	}
	return re, nil
}

// setRule captures Set values with element order preserved.
type setRule struct{}

func (setRule) Name() string { return "set" }
func (setRule) Tag() string  { return TagSet }

func (setRule) AppliesTo(v any) bool {
	_, ok := v.(Set)
	return ok
}

func (setRule) Encode(ctx *Context, v any) (any, error) {
	s := v.(Set)
	id := identity([]any(s))
	if !ctx.Visit(id) {
		return nil, nil
	}
	defer ctx.Leave(id)

	values := make([]any, len(s))
	for i, item := range s {
		values[i] = ctx.Encode(item)
	}
	return map[string]any{TagKey: TagSet, "values": values}, nil
}

func (setRule) Decode(ctx *Context, w map[string]any) (any, error) {
	values, ok := w["values"].([]any)
	if !ok {
		return nil, errors.New("set wrapper missing values")
	}
	out := make(Set, len(values))
	for i, item := range values {
		out[i] = ctx.Decode(item)
	}
	return out, nil
}

// anyMapRule captures maps with non-string keys as explicit entry pairs.
type anyMapRule struct{}

func (anyMapRule) Name() string { return "map" }
func (anyMapRule) Tag() string  { return TagMap }

func (anyMapRule) AppliesTo(v any) bool {
	_, ok := v.(map[any]any)
	return ok
}

func (anyMapRule) Encode(ctx *Context, v any) (any, error) {
	m := v.(map[any]any)
	id := identity(m)
	if !ctx.Visit(id) {
		return nil, nil
	}
	defer ctx.Leave(id)

	entries := make([]any, 0, len(m))
	for k, item := range m {
		entries = append(entries, []any{ctx.Encode(k), ctx.Encode(item)})
	}
	return map[string]any{TagKey: TagMap, "entries": entries}, nil
}

func (anyMapRule) Decode(ctx *Context, w map[string]any) (any, error) {
	entries, ok := w["entries"].([]any)
	if !ok {
		return nil, errors.New("map wrapper missing entries")
	}
	out := make(map[any]any, len(entries))
	for _, e := range entries {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.New("malformed map entry")
		}
		out[ctx.Decode(pair[0])] = ctx.Decode(pair[1])
	}
	return out, nil
}

// errorRule captures name, message and stack. It sits after the specific
// rules so types that happen to implement error still encode by shape.
type errorRule struct{}

func (errorRule) Name() string { return "error" }
func (errorRule) Tag() string  { return TagError }

func (errorRule) AppliesTo(v any) bool {
	_, ok := v.(error)
	return ok
}

func (errorRule) Encode(_ *Context, v any) (any, error) {
	err := v.(error)
	w := map[string]any{TagKey: TagError, "message": err.Error()}
	if re, ok := err.(*RemoteError); ok {
		w["name"] = re.Name
		w["message"] = re.Message
		if re.Stack != "" {
			w["stack"] = re.Stack
		}
		return w, nil
	}
	w["name"] = reflect.TypeOf(v).String()
	return w, nil
}

func (errorRule) Decode(_ *Context, w map[string]any) (any, error) {
	name, _ := w["name"].(string)
	message, _ := w["message"].(string)
	stack, _ := w["stack"].(string)
	return &RemoteError{Name: name, Message: message, Stack: stack}, nil
}

// arrayRule recurses into []any.
type arrayRule struct{}

func (arrayRule) Name() string { return "array" }
func (arrayRule) Tag() string  { return "" }

func (arrayRule) AppliesTo(v any) bool {
	_, ok := v.([]any)
	return ok
}

func (arrayRule) Encode(ctx *Context, v any) (any, error) {
	arr := v.([]any)
	id := identity(arr)
	if !ctx.Visit(id) {
		return nil, nil
	}
	defer ctx.Leave(id)

	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = ctx.Encode(item)
	}
	return out, nil
}

func (arrayRule) Decode(_ *Context, _ map[string]any) (any, error) {
	return nil, errors.New("array rule has no tag")
}

// objectRule recurses into plain string-keyed maps.
type objectRule struct{}

func (objectRule) Name() string { return "object" }
func (objectRule) Tag() string  { return "" }

func (objectRule) AppliesTo(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func (objectRule) Encode(ctx *Context, v any) (any, error) {
	m := v.(map[string]any)
	id := identity(m)
	if !ctx.Visit(id) {
		return nil, nil
	}
	defer ctx.Leave(id)

	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = ctx.Encode(item)
	}
	return out, nil
}

func (objectRule) Decode(_ *Context, _ map[string]any) (any, error) {
	return nil, errors.New("object rule has no tag")
}

// reflectRule is the fallback for typed values: pointers deref, structs
// flatten to objects by field (honoring json tags), typed slices and
// string-keyed maps convert to their plain forms.
type reflectRule struct{}

func (reflectRule) Name() string { return "reflect" }
func (reflectRule) Tag() string  { return "" }

func (reflectRule) AppliesTo(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Pointer, reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func (r reflectRule) Encode(ctx *Context, v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		id := rv.Pointer()
		if !ctx.Visit(id) {
			return nil, nil
		}
		defer ctx.Leave(id)
		return ctx.Encode(rv.Elem().Interface()), nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			id := rv.Pointer()
			if !ctx.Visit(id) {
				return nil, nil
			}
			defer ctx.Leave(id)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = ctx.Encode(rv.Index(i).Interface())
		}
		return out, nil

	case reflect.Map:
		id := rv.Pointer()
		if !ctx.Visit(id) {
			return nil, nil
		}
		defer ctx.Leave(id)
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = ctx.Encode(iter.Value().Interface())
			}
			return out, nil
		}
		entries := make([]any, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, []any{ctx.Encode(iter.Key().Interface()), ctx.Encode(iter.Value().Interface())})
		}
		return map[string]any{TagKey: TagMap, "entries": entries}, nil

	case reflect.Struct:
		return r.encodeStruct(ctx, rv)

	default:
		return nil, fmt.Errorf("unrepresentable kind %s", rv.Kind())
	}
}

func (reflectRule) encodeStruct(ctx *Context, rv reflect.Value) (any, error) {
	rt := rv.Type()
	out := make(map[string]any, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			for j := 0; j < len(tag); j++ {
				if tag[j] == ',' {
					tag = tag[:j]
					break
				}
			}
			if tag != "" {
				name = tag
			}
		}
		out[name] = ctx.Encode(rv.Field(i).Interface())
	}
	return out, nil
}

func (reflectRule) Decode(_ *Context, _ map[string]any) (any, error) {
	return nil, errors.New("reflect rule has no tag")
}
