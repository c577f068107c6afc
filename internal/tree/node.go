package tree

import (
	"github.com/weftui/weft/internal/codec"
)

// Node is one live instance in the reconciled tree. Ids are guest-assigned
// and unique within one guest instance.
type Node struct {
	ID   int64
	Type string

	// Props hold decoded live values: callables appear as *codec.FuncProxy.
	Props map[string]any

	// Text is the payload of a text leaf.
	Text string

	// Children is the ordered child id sequence.
	Children []int64

	// FnIDs is the set of callback ids currently referenced by this node's
	// props. Kept exact so releases match registrations one for one.
	FnIDs map[int64]struct{}
}

// collectFnIDs walks a decoded value and gathers every callback id it
// references.
func collectFnIDs(v any, into map[int64]struct{}) {
	switch val := v.(type) {
	case *codec.FuncProxy:
		into[val.FnID] = struct{}{}
	case []any:
		for _, item := range val {
			collectFnIDs(item, into)
		}
	case map[string]any:
		for _, item := range val {
			collectFnIDs(item, into)
		}
	case codec.Set:
		for _, item := range val {
			collectFnIDs(item, into)
		}
	}
}

// propFnIDs gathers the callback ids referenced anywhere in props.
func propFnIDs(props map[string]any) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, v := range props {
		collectFnIDs(v, ids)
	}
	return ids
}
