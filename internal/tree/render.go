package tree

// Rendered is an immutable snapshot of one node, ready for a materializer.
type Rendered struct {
	ID       int64
	Type     string
	Props    map[string]any
	Text     string
	Children []*Rendered
}

// Render snapshots the current tree. It is a pure, repeatable function of
// current state: calling it twice without intervening batches yields equal
// trees, and an empty tree renders as nil. The returned root carries id 0
// and holds the top-level nodes as children.
func (r *Receiver) Render() *Rendered {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rootChildren) == 0 {
		return nil
	}
	root := &Rendered{ID: 0, Type: "root"}
	for _, id := range r.rootChildren {
		if child := r.renderNode(id); child != nil {
			root.Children = append(root.Children, child)
		}
	}
	return root
}

// renderNode must be called with the lock held.
func (r *Receiver) renderNode(id int64) *Rendered {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	out := &Rendered{
		ID:    n.ID,
		Type:  n.Type,
		Props: make(map[string]any, len(n.Props)),
		Text:  n.Text,
	}
	for k, v := range n.Props {
		out.Props[k] = v
	}
	for _, childID := range n.Children {
		if child := r.renderNode(childID); child != nil {
			out.Children = append(out.Children, child)
		}
	}
	return out
}
