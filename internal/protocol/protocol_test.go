package protocol

import (
	"encoding/json"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindCreate, "CREATE"},
		{KindUpdate, "UPDATE"},
		{KindAppend, "APPEND"},
		{KindInsert, "INSERT"},
		{KindRemove, "REMOVE"},
		{KindDelete, "DELETE"},
		{KindReorder, "REORDER"},
		{KindText, "TEXT"},
		{KindRefCall, "REF_CALL"},
		{KindUnknown, "UNKNOWN"},
		{Kind(200), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestKindValid(t *testing.T) {
	if KindUnknown.Valid() {
		t.Error("KindUnknown should not be valid")
	}
	if !KindCreate.Valid() || !KindRefCall.Valid() {
		t.Error("real kinds should be valid")
	}
	if Kind(100).Valid() {
		t.Error("out-of-range kind should not be valid")
	}
}

func TestConstructors(t *testing.T) {
	op := Create(1, "button", map[string]any{"label": "ok"})
	if op.Kind != KindCreate || op.ID != 1 || op.Type != "button" {
		t.Errorf("Create built %+v", op)
	}

	op = Update(2, map[string]any{"a": 1}, "b", "c")
	if op.Kind != KindUpdate || len(op.Removed) != 2 {
		t.Errorf("Update built %+v", op)
	}

	op = Insert(0, 9, 2)
	if op.Kind != KindInsert || op.ParentID != RootID || op.ChildID != 9 || op.Index != 2 {
		t.Errorf("Insert built %+v", op)
	}

	op = RefCall(7, "focus", []any{true}, "call-1")
	if op.Kind != KindRefCall || op.RefID != 7 || op.Method != "focus" || op.CallID != "call-1" {
		t.Errorf("RefCall built %+v", op)
	}
}

func TestBatchJSONRoundTrip(t *testing.T) {
	b := Batch{
		Version: Version,
		BatchID: 3,
		Operations: []Operation{
			Create(1, "panel", map[string]any{"title": "x"}),
			Append(RootID, 1),
			Text(2, "hello"),
		},
	}

	data, err := json.Marshal(BatchMessage(b))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Kind != MsgBatch || msg.Batch == nil {
		t.Fatalf("decoded message %+v", msg)
	}
	if msg.Batch.BatchID != 3 || len(msg.Batch.Operations) != 3 {
		t.Errorf("decoded batch %+v", msg.Batch)
	}
	if msg.Batch.Operations[0].Kind != KindCreate || msg.Batch.Operations[2].Text != "hello" {
		t.Errorf("operations lost fidelity: %+v", msg.Batch.Operations)
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := RefMethodResult(7, "c1", "ok", nil); m.Kind != MsgRefMethodResult || m.CallID != "c1" {
		t.Errorf("RefMethodResult built %+v", m)
	}
	if m := Backpressure(4); m.Kind != MsgBackpressure || m.Skipped != 4 {
		t.Errorf("Backpressure built %+v", m)
	}
	if m := PromiseReject(2, "boom"); m.Kind != MsgPromiseReject || m.PromiseID != 2 {
		t.Errorf("PromiseReject built %+v", m)
	}
}
