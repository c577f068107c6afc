package merge

import (
	"reflect"
	"testing"

	"github.com/weftui/weft/internal/protocol"
)

func TestUpdatesMergePerID(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Update(1, map[string]any{"a": 1}),
		protocol.Update(1, map[string]any{"b": 2}),
	})

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	want := map[string]any{"a": 1, "b": 2}
	if !reflect.DeepEqual(got[0].Props, want) {
		t.Errorf("props = %v, want %v", got[0].Props, want)
	}
}

func TestUpdateLastWriterWins(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Update(1, map[string]any{"a": 1, "b": 1}),
		protocol.Update(1, map[string]any{"a": 2}),
	})

	if len(got) != 1 || got[0].Props["a"] != 2 || got[0].Props["b"] != 1 {
		t.Errorf("merged = %+v", got)
	}
}

func TestUpdateRemovedUnionAndResurrection(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Update(1, nil, "x", "y"),
		protocol.Update(1, map[string]any{"x": 9}, "z"),
	})

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	op := got[0]
	// x was re-set after removal: it must survive in props and leave removed.
	if op.Props["x"] != 9 {
		t.Errorf("props = %v", op.Props)
	}
	if contains(op.Removed, "x") {
		t.Errorf("removed still holds re-set key: %v", op.Removed)
	}
	for _, k := range []string{"y", "z"} {
		if !contains(op.Removed, k) {
			t.Errorf("removed missing %q: %v", k, op.Removed)
		}
	}
}

func TestCreateDeleteCancels(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Create(5, "panel", nil),
		protocol.Delete(5),
	})
	if len(got) != 0 {
		t.Errorf("merge = %+v, want empty", got)
	}
}

func TestCreateUpdateDeleteCancelsAll(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Create(5, "panel", nil),
		protocol.Update(5, map[string]any{"a": 1}),
		protocol.Delete(5),
	})
	if len(got) != 0 {
		t.Errorf("merge = %+v, want empty", got)
	}
}

func TestDeleteWithoutCreatePassesThrough(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Update(5, map[string]any{"a": 1}),
		protocol.Delete(5),
	})
	// Node 5 pre-exists this batch: both ops survive in order.
	if len(got) != 2 || got[0].Kind != protocol.KindUpdate || got[1].Kind != protocol.KindDelete {
		t.Errorf("merge = %+v", got)
	}
}

func TestInsertCollapsesToLast(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Insert(0, 9, 0),
		protocol.Insert(0, 9, 2),
	})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ChildID != 9 || got[0].Index != 2 {
		t.Errorf("collapsed insert = %+v", got[0])
	}
}

func TestReorderCollapsesToLast(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Reorder(3, []int64{1, 2}),
		protocol.Reorder(3, []int64{2, 1}),
	})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0].Children, []int64{2, 1}) {
		t.Errorf("collapsed reorder = %+v", got[0])
	}
}

func TestPositionalStatementsAppendedAfterOthers(t *testing.T) {
	got := Merge([]protocol.Operation{
		protocol.Insert(0, 9, 1),
		protocol.Create(9, "item", nil),
		protocol.Text(9, "hi"),
	})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Kind != protocol.KindCreate || got[1].Kind != protocol.KindText {
		t.Errorf("stream order = %v %v", got[0].Kind, got[1].Kind)
	}
	if got[2].Kind != protocol.KindInsert {
		t.Errorf("insert not appended last: %+v", got)
	}
}

func TestOtherKindsPreserveOrder(t *testing.T) {
	ops := []protocol.Operation{
		protocol.Create(1, "a", nil),
		protocol.Append(0, 1),
		protocol.Text(1, "x"),
		protocol.Remove(0, 1),
	}
	got := Merge(ops)
	if !reflect.DeepEqual(got, ops) {
		t.Errorf("merge reordered pass-through ops:\n got %+v\nwant %+v", got, ops)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	ops := []protocol.Operation{
		protocol.Update(1, map[string]any{"a": 1}),
		protocol.Update(1, map[string]any{"b": 2}),
	}
	_ = Merge(ops)

	if len(ops[0].Props) != 1 || ops[0].Props["a"] != 1 {
		t.Errorf("input op mutated: %+v", ops[0])
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil); len(got) != 0 {
		t.Errorf("Merge(nil) = %+v", got)
	}
}
