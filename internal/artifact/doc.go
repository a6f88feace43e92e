// Package artifact is the filesystem store for phase outputs.
//
// It handles file I/O and freshness checks only; which artifacts a phase
// must produce is the phase registry's concern, and logical versions live
// in the pipeline state.
package artifact
