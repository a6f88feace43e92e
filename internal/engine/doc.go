// Package engine is the pipeline's state machine.
//
// Transition is a pure function from (state, event) to a new state plus an
// audit log entry. Events carry the state version they were computed against
// so retried deliveries are detected and rejected instead of double-applied.
// The Controller layers retry policy on top of block handling: bounded
// automatic recovery loops, a livelock guard that halts after the configured
// threshold, and the explicit decision paths (retry, skip-with-record,
// abort) a halted pipeline accepts.
//
// Nothing in this package performs I/O; callers persist results through the
// store.
package engine
