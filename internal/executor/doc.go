// Package executor defines the external collaborator boundary for phases.
//
// The engine invokes an Executor and receives a structured Outcome; how the
// phase did its work is opaque. CommandExecutor is the shipped
// implementation: it shells out to a configured per-phase command and parses
// the JSON outcome file the command writes. Any outcome that violates the
// contract fails closed as OutcomeFailed.
package executor
