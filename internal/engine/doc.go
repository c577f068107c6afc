// Package engine hosts guest plugin runtimes. A Substrate is one embedded
// script runtime; the Runtime wraps the guest side of the boundary with the
// operation builders a substrate binds into its script environment. Batches
// are throttled through a scheduler, so bursts of mutations coalesce before
// they cross.
package engine
