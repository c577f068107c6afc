// Package tree applies decoded operation batches to a persistent node
// tree. The receiver owns the tree exclusively: batches mutate it in
// operation order, at most a configured number of operations per call, and
// every per-operation failure is caught and counted without aborting the
// rest of the batch.
//
// The tree is exactly that: each node has a single parent at a time, and a
// reverse child-to-parent index gives O(1) detach. When the index is
// missing an entry that should exist, the receiver falls back to a linear
// scan over all nodes. That is a resilience measure for protocol
// violations, not a normal path, and strict mode disables it.
package tree
