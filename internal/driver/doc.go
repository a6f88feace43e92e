// Package driver runs the control loop: it loads pipeline state, executes
// the eligible phase, classifies the outcome, and persists the transition
// under the store's compare-and-swap. A file lock serializes writers across
// processes; suspension and completion are returned as values so a caller
// can resume from a later invocation.
package driver
