package engine

import (
	"errors"
	"fmt"
	"strings"

	"loom/internal/phase"
)

// Sentinel markers for errors.Is classification. The typed errors below
// unwrap to these so callers can branch on category without losing detail.
var (
	ErrEventReplayed = errors.New("event replayed")
	ErrNotEligible   = errors.New("phase not eligible")
	ErrOutOfOrder    = errors.New("out-of-order completion")
	ErrUnrecoverable = errors.New("unrecoverable block")
	ErrIncomplete    = errors.New("incomplete phase outputs")
)

// IncompleteOutputError reports an Advance whose artifact set is missing
// declared outputs. The engine never invents missing artifacts; the caller
// must re-invoke the phase executor.
type IncompleteOutputError struct {
	Phase   phase.Name
	Missing []string
}

func (e *IncompleteOutputError) Error() string {
	return fmt.Sprintf("phase %s completed without required outputs: %s", e.Phase, strings.Join(e.Missing, ", "))
}

func (e *IncompleteOutputError) Unwrap() error { return ErrIncomplete }

// OutOfOrderWarning reports an Advance on a phase while a later phase is
// already completed from a prior run. The engine refuses to apply it unless
// the event explicitly acknowledges the condition; existing downstream work
// is never silently reordered or discarded.
type OutOfOrderWarning struct {
	Phase          phase.Name
	CompletedLater phase.Name
}

func (e *OutOfOrderWarning) Error() string {
	return fmt.Sprintf("phase %s completing while later phase %s is already completed", e.Phase, e.CompletedLater)
}

func (e *OutOfOrderWarning) Unwrap() error { return ErrOutOfOrder }

// UnrecoverableBlockError reports a block on a phase with no recovery
// target. Such phases cannot auto-loop; the pipeline needs an explicit
// start-over or manual artifact repair.
type UnrecoverableBlockError struct {
	Phase  phase.Name
	Reason string
}

func (e *UnrecoverableBlockError) Error() string {
	return fmt.Sprintf("phase %s blocked with no recovery target: %s", e.Phase, e.Reason)
}

func (e *UnrecoverableBlockError) Unwrap() error { return ErrUnrecoverable }

// ReplayError reports an event whose base version no longer matches the
// state, which is how retried deliveries are detected and dropped.
type ReplayError struct {
	BaseVersion  int64
	StateVersion int64
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("event based on version %d but state is at version %d", e.BaseVersion, e.StateVersion)
}

func (e *ReplayError) Unwrap() error { return ErrEventReplayed }

// NotEligibleError reports an event targeting a phase other than the one
// currently eligible to run.
type NotEligibleError struct {
	Phase   phase.Name
	Current phase.Name
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("phase %s is not eligible; current phase is %s", e.Phase, e.Current)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }
