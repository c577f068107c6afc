// Package protocol defines the wire vocabulary exchanged between the host
// and the guest: tree-mutation operations, the versioned batch envelope
// that carries them, and the control messages that flow alongside batches.
//
// The schema is stateless. A receiver that encounters an operation kind it
// does not recognize skips that operation; it never rejects the batch.
//
// Node ids are guest-assigned and monotonically increasing within one guest
// instance. Id 0 is reserved for the root container and never names a real
// node.
package protocol
