// Package codec converts live values to a transport-safe wire form and
// back, driven by an ordered list of type rules. Primitives pass through,
// containers recurse, and everything else gets a tagged wrapper that the
// other side can reconstruct. Callables and pending results are replaced
// by opaque ids; the owning side keeps the real thing.
package codec

import (
	"reflect"

	"github.com/weftui/weft/internal/callback"
	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/promise"
)

// Hooks connect the codec to the callback and async-result managers of its
// side. The codec itself owns nothing.
type Hooks struct {
	// RegisterFunc stores a local callable and returns its fnId.
	RegisterFunc func(fn callback.Func) int64

	// InvokeFunc routes an invocation of fnId, checking the local registry
	// first and forwarding to the other side otherwise.
	InvokeFunc func(fnID int64, args []any) (any, error)

	// RegisterAsync tracks a local future crossing the boundary and
	// returns its promiseId.
	RegisterAsync func(f *promise.Future) int64

	// CreatePending registers a future for a promiseId minted by the other
	// side, which owns the eventual value.
	CreatePending func(id int64) (*promise.Future, error)
}

// Rule encodes one family of values and decodes one wire tag. Rules are
// tried in order; the first whose AppliesTo matches wins.
type Rule interface {
	// Name identifies the rule in logs.
	Name() string

	// AppliesTo reports whether this rule encodes v.
	AppliesTo(v any) bool

	// Encode converts v to wire form. An error degrades to a placeholder;
	// it never aborts the traversal.
	Encode(ctx *Context, v any) (any, error)

	// Tag names the wrapper tag this rule decodes, or "" for rules that
	// only encode pass-through shapes.
	Tag() string

	// Decode reconstructs a value from a tagged wrapper.
	Decode(ctx *Context, wire map[string]any) (any, error)
}

// Codec is a bidirectional value converter for one side of the boundary.
type Codec struct {
	rules  []Rule
	hooks  Hooks
	logger *log.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the codec logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// WithRule prepends a custom rule, giving it priority over the defaults.
func WithRule(r Rule) Option {
	return func(c *Codec) { c.rules = append([]Rule{r}, c.rules...) }
}

// New creates a Codec with the default rule set.
func New(hooks Hooks, opts ...Option) *Codec {
	c := &Codec{
		rules:  defaultRules(),
		hooks:  hooks,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode converts a live value to wire form. Unrepresentable values degrade
// to placeholders; circular structures are broken at the repeated node.
func (c *Codec) Encode(v any) any {
	ctx := &Context{codec: c, visited: make(map[uintptr]bool)}
	return ctx.Encode(v)
}

// Decode converts a wire value back to a live value. Callables become
// forwarding proxies; promise ids become pending futures.
func (c *Codec) Decode(w any) any {
	ctx := &Context{codec: c, visited: make(map[uintptr]bool)}
	return ctx.Decode(w)
}

// EncodeProps encodes each value of a props map.
func (c *Codec) EncodeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = c.Encode(v)
	}
	return out
}

// DecodeProps decodes each value of a props map.
func (c *Codec) DecodeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = c.Decode(v)
	}
	return out
}

// Context is handed to rules during one traversal. It exposes recursive
// encode/decode, the manager hooks and the logger, and carries the
// identity-keyed visited set that breaks cycles.
type Context struct {
	codec   *Codec
	visited map[uintptr]bool
}

// Hooks returns the codec's manager hooks.
func (ctx *Context) Hooks() *Hooks {
	return &ctx.codec.hooks
}

// Logger returns the codec logger.
func (ctx *Context) Logger() *log.Logger {
	return ctx.codec.logger
}

// Visit marks an identity as in-traversal. It returns false if the
// identity was already seen, i.e. the structure is circular.
func (ctx *Context) Visit(ptr uintptr) bool {
	if ptr == 0 {
		return true
	}
	if ctx.visited[ptr] {
		return false
	}
	ctx.visited[ptr] = true
	return true
}

// Leave unmarks an identity after its subtree is done, so diamond-shaped
// (shared but acyclic) references encode fully.
func (ctx *Context) Leave(ptr uintptr) {
	if ptr != 0 {
		delete(ctx.visited, ptr)
	}
}

// Encode converts one value, dispatching to the first matching rule.
func (ctx *Context) Encode(v any) any {
	if v == nil {
		return nil
	}

	// A value already carrying a tag is pre-encoded. Pass it through
	// untouched so it is never double-wrapped.
	if m, ok := v.(map[string]any); ok && Tagged(m) {
		return m
	}

	for _, r := range ctx.codec.rules {
		if !r.AppliesTo(v) {
			continue
		}
		w, err := r.Encode(ctx, v)
		if err != nil {
			ctx.codec.logger.Warn("encode rule %s degraded %T: %v", r.Name(), v, err)
			return placeholder(v)
		}
		return w
	}

	ctx.codec.logger.Warn("no encode rule for %T", v)
	return placeholder(v)
}

// Decode converts one wire value. Tagged wrappers dispatch to the rule
// owning the tag; plain containers recurse; live values pass through.
func (ctx *Context) Decode(w any) any {
	switch val := w.(type) {
	case nil:
		return nil
	case map[string]any:
		if Tagged(val) {
			return ctx.decodeTagged(val)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ctx.Decode(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ctx.Decode(item)
		}
		return out
	default:
		return val
	}
}

func (ctx *Context) decodeTagged(w map[string]any) any {
	tag := w[TagKey].(string)
	for _, r := range ctx.codec.rules {
		if r.Tag() != tag {
			continue
		}
		v, err := r.Decode(ctx, w)
		if err != nil {
			ctx.codec.logger.Warn("decode rule %s failed on tag %s: %v", r.Name(), tag, err)
			return nil
		}
		return v
	}
	ctx.codec.logger.Warn("no decode rule for tag %s", tag)
	return nil
}

// identity returns a pointer identity for cycle tracking, or 0 when the
// value has no stable identity (and therefore cannot participate in a
// cycle by itself).
func identity(v any) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.UnsafePointer, reflect.Chan, reflect.Func:
		return rv.Pointer()
	default:
		return 0
	}
}
