// Package merge compacts a pending operation list before emission,
// preserving the final observable effect while shrinking the count.
package merge

import (
	"github.com/weftui/weft/internal/protocol"
)

// Merge compacts ops. It is a pure function: the input slice is not
// modified.
//
// Rules applied:
//   - repeated UPDATEs to one id merge prop sets (last writer per key wins)
//     and union removed-prop sets
//   - a CREATE followed by DELETE of the same id cancels both and drops any
//     pending UPDATEs to that id
//   - multiple INSERTs of one child collapse to the last (final position
//     wins)
//   - multiple REORDERs on one parent collapse to the last
//
// Deduplicated INSERT and REORDER operations are appended after the other
// operations. They are idempotent positional statements, not deltas, so the
// move is safe.
func Merge(ops []protocol.Operation) []protocol.Operation {
	stream := make([]*protocol.Operation, 0, len(ops))

	// Indexes into stream for coalescing.
	updates := make(map[int64]*protocol.Operation)
	creates := make(map[int64]*protocol.Operation)

	// Deduplicated positional statements, in first-seen key order.
	var insertOrder []int64
	inserts := make(map[int64]*protocol.Operation)
	var reorderOrder []int64
	reorders := make(map[int64]*protocol.Operation)

	for i := range ops {
		op := ops[i] // copy; merged ops are mutated below

		switch op.Kind {
		case protocol.KindCreate:
			creates[op.ID] = &op
			stream = append(stream, &op)

		case protocol.KindUpdate:
			if prev, ok := updates[op.ID]; ok {
				mergeUpdate(prev, &op)
				continue
			}
			cloneUpdate(&op)
			updates[op.ID] = &op
			stream = append(stream, &op)

		case protocol.KindDelete:
			if created, ok := creates[op.ID]; ok {
				// Node both born and destroyed in this batch: nothing the
				// receiver does with it is observable.
				created.Kind = protocol.KindUnknown
				delete(creates, op.ID)
				if upd, ok := updates[op.ID]; ok {
					upd.Kind = protocol.KindUnknown
					delete(updates, op.ID)
				}
				continue
			}
			stream = append(stream, &op)

		case protocol.KindInsert:
			if _, ok := inserts[op.ChildID]; !ok {
				insertOrder = append(insertOrder, op.ChildID)
			}
			inserts[op.ChildID] = &op

		case protocol.KindReorder:
			if _, ok := reorders[op.ParentID]; !ok {
				reorderOrder = append(reorderOrder, op.ParentID)
			}
			reorders[op.ParentID] = &op

		default:
			stream = append(stream, &op)
		}
	}

	out := make([]protocol.Operation, 0, len(stream)+len(inserts)+len(reorders))
	for _, op := range stream {
		if op.Kind == protocol.KindUnknown {
			continue // cancelled
		}
		out = append(out, *op)
	}
	for _, child := range insertOrder {
		out = append(out, *inserts[child])
	}
	for _, parent := range reorderOrder {
		out = append(out, *reorders[parent])
	}
	return out
}

// cloneUpdate gives the merged operation its own maps so later merges never
// mutate the caller's operation.
func cloneUpdate(op *protocol.Operation) {
	props := make(map[string]any, len(op.Props))
	for k, v := range op.Props {
		props[k] = v
	}
	op.Props = props
	op.Removed = append([]string(nil), op.Removed...)
}

// mergeUpdate folds next into prev. A key set by next leaves the removed
// set; a key removed by next leaves the prop set. Final observable effect
// only.
func mergeUpdate(prev, next *protocol.Operation) {
	for k, v := range next.Props {
		prev.Props[k] = v
		prev.Removed = without(prev.Removed, k)
	}
	for _, k := range next.Removed {
		delete(prev.Props, k)
		if !contains(prev.Removed, k) {
			prev.Removed = append(prev.Removed, k)
		}
	}
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func without(keys []string, k string) []string {
	out := keys[:0]
	for _, key := range keys {
		if key != k {
			out = append(out, key)
		}
	}
	return out
}
