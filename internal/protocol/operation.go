package protocol

// Version is the batch envelope version emitted by this implementation.
const Version = 1

// RootID is the reserved id of the root container.
const RootID int64 = 0

// Kind identifies one operation in the tagged union.
type Kind uint8

// Operation kinds. The set is closed; dispatch over it is exhaustive.
const (
	KindUnknown Kind = iota
	KindCreate
	KindUpdate
	KindAppend
	KindInsert
	KindRemove
	KindDelete
	KindReorder
	KindText
	KindRefCall
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	case KindAppend:
		return "APPEND"
	case KindInsert:
		return "INSERT"
	case KindRemove:
		return "REMOVE"
	case KindDelete:
		return "DELETE"
	case KindReorder:
		return "REORDER"
	case KindText:
		return "TEXT"
	case KindRefCall:
		return "REF_CALL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the kind is one this implementation recognizes.
func (k Kind) Valid() bool {
	return k > KindUnknown && k <= KindRefCall
}

// Operation is one tree-mutation instruction. It is a tagged union keyed by
// Kind; only the fields for the given kind are meaningful.
type Operation struct {
	Kind Kind `json:"kind"`

	// ID is the target node for CREATE, UPDATE, DELETE and TEXT.
	ID int64 `json:"id,omitempty"`

	// CREATE
	Type string `json:"type,omitempty"`

	// CREATE carries full props, UPDATE partial props.
	Props map[string]any `json:"props,omitempty"`

	// UPDATE: prop keys explicitly removed.
	Removed []string `json:"removed,omitempty"`

	// APPEND, INSERT, REMOVE, REORDER. ParentID 0 is the root container.
	ParentID int64 `json:"parentId"`
	ChildID  int64 `json:"childId,omitempty"`

	// INSERT target position.
	Index int `json:"index,omitempty"`

	// REORDER: full ordered child list for ParentID.
	Children []int64 `json:"children,omitempty"`

	// TEXT payload for ID.
	Text string `json:"text,omitempty"`

	// REF_CALL
	RefID  int64  `json:"refId,omitempty"`
	Method string `json:"method,omitempty"`
	Args   []any  `json:"args,omitempty"`
	CallID string `json:"callId,omitempty"`
}

// Batch is an ordered, versioned group of operations. Replay order equals
// application order.
type Batch struct {
	Version    int         `json:"version"`
	BatchID    uint64      `json:"batchId"`
	Operations []Operation `json:"ops"`
}

// Create builds a CREATE operation.
func Create(id int64, nodeType string, props map[string]any) Operation {
	return Operation{Kind: KindCreate, ID: id, Type: nodeType, Props: props}
}

// Update builds an UPDATE operation with partial props and removed keys.
func Update(id int64, props map[string]any, removed ...string) Operation {
	return Operation{Kind: KindUpdate, ID: id, Props: props, Removed: removed}
}

// Append builds an APPEND operation attaching childID under parentID.
func Append(parentID, childID int64) Operation {
	return Operation{Kind: KindAppend, ParentID: parentID, ChildID: childID}
}

// Insert builds an INSERT operation attaching childID at index.
func Insert(parentID, childID int64, index int) Operation {
	return Operation{Kind: KindInsert, ParentID: parentID, ChildID: childID, Index: index}
}

// Remove builds a REMOVE operation detaching childID without destroying it.
func Remove(parentID, childID int64) Operation {
	return Operation{Kind: KindRemove, ParentID: parentID, ChildID: childID}
}

// Delete builds a DELETE operation destroying id and its subtree.
func Delete(id int64) Operation {
	return Operation{Kind: KindDelete, ID: id}
}

// Reorder builds a REORDER operation replacing parentID's child order.
func Reorder(parentID int64, children []int64) Operation {
	return Operation{Kind: KindReorder, ParentID: parentID, Children: children}
}

// Text builds a TEXT operation.
func Text(id int64, text string) Operation {
	return Operation{Kind: KindText, ID: id, Text: text}
}

// RefCall builds a REF_CALL operation invoking method on the live handle
// refID. The reply is correlated by callID.
func RefCall(refID int64, method string, args []any, callID string) Operation {
	return Operation{Kind: KindRefCall, RefID: refID, Method: method, Args: args, CallID: callID}
}
