// Package pipeline defines the persisted data model for a project's phase
// pipeline: the State aggregate, per-phase records, the event types that
// drive transitions, and the audit log entry appended for every computed
// transition.
//
// State carries a monotonic version used by the store's compare-and-swap
// save and by the engine's replay detection. Validate reports ordering
// violations as non-fatal warnings so a damaged record can still be loaded
// and inspected. Nothing in this package performs I/O or mutates state on
// its own; the engine computes transitions and the store persists them.
package pipeline
