package tree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/protocol"
)

// Defaults.
const (
	DefaultMaxBatchSize = 256
	DefaultTopTypes     = 5
)

// Receiver errors. All of them are per-operation: they are counted, never
// propagated to the caller of ApplyBatch.
var (
	ErrUnknownNode   = errors.New("operation references unknown node id")
	ErrDuplicateNode = errors.New("create of an existing node id")
	ErrUnknownParent = errors.New("operation references unknown parent id")
	ErrReservedID    = errors.New("id 0 is reserved for the root container")
)

// Notify sends a message back toward the producer. Failures are swallowed;
// notification is best effort.
type Notify func(protocol.Message) error

// Receiver applies decoded batches to the node tree.
//
// ApplyBatch is not reentrant-safe under concurrent calls; callers must
// serialize, e.g. by feeding it from a single scheduler sink.
type Receiver struct {
	mu sync.Mutex

	nodes        map[int64]*Node
	rootChildren []int64
	parents      map[int64]int64
	handles      map[int64]any

	release      func(fnID int64)
	notify       Notify
	maxBatchSize int
	strict       bool
	topN         int
	logger       *log.Logger

	lastStats Stats
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithMaxBatchSize bounds operations applied per ApplyBatch call.
func WithMaxBatchSize(n int) Option {
	return func(r *Receiver) { r.maxBatchSize = n }
}

// WithRelease sets the hook releasing callback ids the tree no longer
// references.
func WithRelease(release func(fnID int64)) Option {
	return func(r *Receiver) { r.release = release }
}

// WithNotify sets the best-effort channel back to the producer, used for
// backpressure and REF_CALL replies.
func WithNotify(notify Notify) Option {
	return func(r *Receiver) { r.notify = notify }
}

// WithStrict disables the fallback repair scans: protocol violations
// become counted failures instead.
func WithStrict(strict bool) Option {
	return func(r *Receiver) { r.strict = strict }
}

// WithTopTypes sets how many attribution buckets stats keep.
func WithTopTypes(n int) Option {
	return func(r *Receiver) { r.topN = n }
}

// WithLogger sets the receiver logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Receiver) { r.logger = logger }
}

// NewReceiver creates an empty tree.
func NewReceiver(opts ...Option) *Receiver {
	r := &Receiver{
		nodes:        make(map[int64]*Node),
		parents:      make(map[int64]int64),
		handles:      make(map[int64]any),
		maxBatchSize: DefaultMaxBatchSize,
		topN:         DefaultTopTypes,
		logger:       log.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NodeCount returns the number of live nodes.
func (r *Receiver) NodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// Node returns a node by id, or nil.
func (r *Receiver) Node(id int64) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[id]
}

// LastStats returns the stats of the most recent ApplyBatch call.
func (r *Receiver) LastStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStats
}

// ApplyBatch applies operations in order, at most maxBatchSize of them;
// the remainder is counted as skipped, not applied. Each operation's
// failure is caught and counted without aborting the rest. Any skip
// triggers a backpressure notification so the producer can throttle.
func (r *Receiver) ApplyBatch(b protocol.Batch) Stats {
	r.mu.Lock()

	sb := newStatsBuilder(b.BatchID)
	nodesBefore := len(r.nodes)

	for i, op := range b.Operations {
		if i >= r.maxBatchSize {
			sb.stats.Skipped = len(b.Operations) - i
			break
		}
		if !op.Kind.Valid() {
			sb.stats.Unknown++
			r.logger.Debug("ignoring unrecognized operation kind %d", op.Kind)
			continue
		}

		sb.countKind(op.Kind)
		sb.attribute(r.attributionType(op))

		if err := r.apply(op); err != nil {
			sb.stats.Failed++
			r.logger.Warn("batch %d op %d (%s): %v", b.BatchID, i, op.Kind, err)
			continue
		}
		sb.stats.Applied++
	}

	stats := sb.finish(len(r.nodes)-nodesBefore, r.topN)
	r.lastStats = stats
	notify := r.notify
	r.mu.Unlock()

	if stats.Skipped > 0 && notify != nil {
		// Best effort: a producer that cannot be reached cannot slow down
		// either.
		_ = notify(protocol.Backpressure(stats.Skipped))
	}
	return stats
}

// attributionType resolves the node type an operation should be attributed
// to. Must be called with the lock held.
func (r *Receiver) attributionType(op protocol.Operation) string {
	if op.Kind == protocol.KindCreate {
		return op.Type
	}
	id := op.ID
	switch op.Kind {
	case protocol.KindAppend, protocol.KindInsert, protocol.KindRemove:
		id = op.ChildID
	case protocol.KindReorder:
		id = op.ParentID
	case protocol.KindRefCall:
		id = op.RefID
	}
	if n, ok := r.nodes[id]; ok {
		return n.Type
	}
	return ""
}

// apply dispatches one operation. The kind set is closed; the switch is
// exhaustive over it.
func (r *Receiver) apply(op protocol.Operation) error {
	switch op.Kind {
	case protocol.KindCreate:
		return r.applyCreate(op)
	case protocol.KindUpdate:
		return r.applyUpdate(op)
	case protocol.KindAppend:
		return r.attach(op.ParentID, op.ChildID, -1)
	case protocol.KindInsert:
		return r.attach(op.ParentID, op.ChildID, op.Index)
	case protocol.KindRemove:
		return r.applyRemove(op)
	case protocol.KindDelete:
		return r.applyDelete(op)
	case protocol.KindReorder:
		return r.applyReorder(op)
	case protocol.KindText:
		return r.applyText(op)
	case protocol.KindRefCall:
		return r.applyRefCall(op)
	default:
		return fmt.Errorf("kind %d not dispatchable", op.Kind)
	}
}

func (r *Receiver) applyCreate(op protocol.Operation) error {
	if op.ID == protocol.RootID {
		return ErrReservedID
	}
	if _, exists := r.nodes[op.ID]; exists {
		return fmt.Errorf("id %d: %w", op.ID, ErrDuplicateNode)
	}
	r.nodes[op.ID] = &Node{
		ID:    op.ID,
		Type:  op.Type,
		Props: op.Props,
		FnIDs: propFnIDs(op.Props),
	}
	return nil
}

// applyUpdate merges new props over old and deletes removed keys. Callback
// ids that leave the prop set are released before the new set is recorded,
// which is what keeps repeated updates from leaking registrations.
func (r *Receiver) applyUpdate(op protocol.Operation) error {
	n, ok := r.nodes[op.ID]
	if !ok {
		return fmt.Errorf("update id %d: %w", op.ID, ErrUnknownNode)
	}

	oldIDs := n.FnIDs

	if n.Props == nil && len(op.Props) > 0 {
		n.Props = make(map[string]any, len(op.Props))
	}
	for k, v := range op.Props {
		n.Props[k] = v
	}
	for _, k := range op.Removed {
		delete(n.Props, k)
	}

	newIDs := propFnIDs(n.Props)
	for id := range oldIDs {
		if _, still := newIDs[id]; !still {
			r.releaseFn(id)
		}
	}
	n.FnIDs = newIDs
	return nil
}

// attach places child under parent; index -1 appends, otherwise the child
// lands at index (clamped). A child already attached elsewhere is detached
// first: a node has a single parent at a time.
func (r *Receiver) attach(parentID, childID int64, index int) error {
	if _, ok := r.nodes[childID]; !ok {
		return fmt.Errorf("attach child %d: %w", childID, ErrUnknownNode)
	}
	list := r.childList(parentID)
	if list == nil {
		return fmt.Errorf("attach under %d: %w", parentID, ErrUnknownParent)
	}

	r.detach(childID)
	// Re-resolve: detach may have mutated the same list.
	list = r.childList(parentID)

	if index < 0 || index >= len(*list) {
		*list = append(*list, childID)
	} else {
		*list = append(*list, 0)
		copy((*list)[index+1:], (*list)[index:])
		(*list)[index] = childID
	}
	r.parents[childID] = parentID
	return nil
}

func (r *Receiver) applyRemove(op protocol.Operation) error {
	if _, ok := r.nodes[op.ChildID]; !ok {
		return fmt.Errorf("remove child %d: %w", op.ChildID, ErrUnknownNode)
	}
	// Detach without destroying.
	r.detach(op.ChildID)
	return nil
}

// applyDelete destroys a subtree, releasing every descendant's callback
// ids and reconciling the reverse index.
func (r *Receiver) applyDelete(op protocol.Operation) error {
	n, ok := r.nodes[op.ID]
	if !ok {
		return fmt.Errorf("delete id %d: %w", op.ID, ErrUnknownNode)
	}

	if _, indexed := r.parents[op.ID]; indexed {
		r.detach(op.ID)
	} else if !r.strict {
		// Index entry missing. Either the node was legitimately detached
		// earlier, or the protocol was violated (DELETE without a prior
		// REMOVE after index loss). Scan all child lists to be sure.
		r.scavenge(op.ID)
	}

	r.destroy(n)
	return nil
}

// destroy removes n and its descendants from the node table.
func (r *Receiver) destroy(n *Node) {
	for id := range n.FnIDs {
		r.releaseFn(id)
	}
	delete(r.nodes, n.ID)
	delete(r.parents, n.ID)
	delete(r.handles, n.ID)

	for _, childID := range n.Children {
		if child, ok := r.nodes[childID]; ok {
			r.destroy(child)
		}
	}
}

func (r *Receiver) applyReorder(op protocol.Operation) error {
	list := r.childList(op.ParentID)
	if list == nil {
		return fmt.Errorf("reorder under %d: %w", op.ParentID, ErrUnknownParent)
	}

	next := make([]int64, 0, len(op.Children))
	keep := make(map[int64]bool, len(op.Children))
	for _, id := range op.Children {
		if _, ok := r.nodes[id]; !ok {
			return fmt.Errorf("reorder child %d: %w", id, ErrUnknownNode)
		}
		keep[id] = true
		next = append(next, id)
	}

	// Anything that left the set loses its index entry.
	for _, id := range *list {
		if !keep[id] {
			delete(r.parents, id)
		}
	}
	for _, id := range next {
		r.parents[id] = op.ParentID
	}
	*list = next
	return nil
}

func (r *Receiver) applyText(op protocol.Operation) error {
	n, ok := r.nodes[op.ID]
	if !ok {
		return fmt.Errorf("text id %d: %w", op.ID, ErrUnknownNode)
	}
	n.Text = op.Text
	return nil
}

// childList returns a pointer to the ordered child list of parentID, or
// nil for an unknown parent. Parent 0 is the root container.
func (r *Receiver) childList(parentID int64) *[]int64 {
	if parentID == protocol.RootID {
		return &r.rootChildren
	}
	if n, ok := r.nodes[parentID]; ok {
		return &n.Children
	}
	return nil
}

// detach removes childID from its current position via the reverse index.
func (r *Receiver) detach(childID int64) {
	parentID, ok := r.parents[childID]
	if !ok {
		return
	}
	if list := r.childList(parentID); list != nil {
		*list = removeID(*list, childID)
	}
	delete(r.parents, childID)
}

// scavenge is the O(n) fallback for a missing index entry: it removes
// every occurrence of id from every child list. Protocol violations only.
func (r *Receiver) scavenge(id int64) {
	found := false
	if n := len(r.rootChildren); n > 0 {
		r.rootChildren = removeID(r.rootChildren, id)
		found = found || len(r.rootChildren) != n
	}
	for _, node := range r.nodes {
		if n := len(node.Children); n > 0 {
			node.Children = removeID(node.Children, id)
			found = found || len(node.Children) != n
		}
	}
	if found {
		r.logger.Warn("reverse index missed node %d; repaired by scan", id)
	}
}

func (r *Receiver) releaseFn(id int64) {
	if r.release != nil {
		r.release(id)
	}
}

func removeID(list []int64, id int64) []int64 {
	out := list[:0]
	for _, item := range list {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}
