package codec

import (
	"fmt"
	"strings"
)

// TagKey marks a wire map as a tagged wrapper. A value is tagged iff it
// cannot be represented as a primitive, array or plain object.
const TagKey = "__type"

// Wire tags for values that need a wrapper to survive the boundary.
const (
	TagFunction = "function"
	TagPromise  = "promise"
	TagDate     = "date"
	TagRegexp   = "regexp"
	TagMap      = "map"
	TagSet      = "set"
	TagError    = "error"
)

// knownTags is the set of wrapper tags this codec understands.
var knownTags = map[string]bool{
	TagFunction: true,
	TagPromise:  true,
	TagDate:     true,
	TagRegexp:   true,
	TagMap:      true,
	TagSet:      true,
	TagError:    true,
}

// Tagged reports whether m is a tagged wrapper.
func Tagged(m map[string]any) bool {
	tag, ok := m[TagKey].(string)
	return ok && knownTags[tag]
}

// IsWire reports whether v is already in wire form: primitives, arrays and
// string-keyed maps all the way down, with no live host values. Backends
// that encode before handing a payload over produce exactly this shape;
// backends that share runtime state do not.
func IsWire(v any) bool {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case []any:
		for _, item := range val {
			if !IsWire(item) {
				return false
			}
		}
		return true
	case map[string]any:
		if Tagged(val) {
			return true
		}
		for _, item := range val {
			if !IsWire(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Set is the decoded form of a guest set value. Element order follows the
// encoded order.
type Set []any

// Contains reports whether the set holds v (by ==).
func (s Set) Contains(v any) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// RemoteError is the decoded form of an error that crossed the boundary.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// FuncProxy is the decoded form of a callable owned by the other side.
// Invoking it routes through the codec's invocation hook; the underlying
// closure never crosses the boundary.
type FuncProxy struct {
	FnID   int64
	invoke func(fnID int64, args []any) (any, error)
}

// Call invokes the remote callable.
func (p *FuncProxy) Call(args ...any) (any, error) {
	if p.invoke == nil {
		return nil, fmt.Errorf("fnId %d: no invoker wired", p.FnID)
	}
	return p.invoke(p.FnID, args)
}

// placeholder is the degraded wire form for an unrepresentable value.
// Encoding failures never abort a batch.
func placeholder(v any) string {
	return fmt.Sprintf("<unencodable %T>", v)
}

// IsPlaceholder reports whether s is a degraded stand-in produced by the
// encoder.
func IsPlaceholder(s string) bool {
	return strings.HasPrefix(s, "<unencodable ") && strings.HasSuffix(s, ">")
}

// asInt64 normalizes wire numbers, which arrive as float64 after JSON
// transport and as integer types in-process.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
