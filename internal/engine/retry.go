package engine

import (
	"fmt"
	"time"

	"loom/internal/phase"
	"loom/internal/pipeline"
)

// DefaultRetryThreshold is the number of automatic recovery loops allowed
// before the controller stops and asks for a decision.
const DefaultRetryThreshold = 2

// RequiresHumanDecision is the controller's deliberate halt: the livelock
// guard tripped and the pipeline will not loop again without explicit
// instruction. It is a first-class value, not an error.
type RequiresHumanDecision struct {
	Phase   phase.Name
	Target  phase.Name
	Retries int
	Reasons []string
}

// Controller wraps the engine's block handling with retry policy. It only
// ever makes the purely mechanical choice of looping back once; everything
// else requires an externally supplied decision.
type Controller struct {
	threshold int
}

// NewController builds a controller with the given livelock threshold.
// Values below 1 fall back to the default.
func NewController(threshold int) *Controller {
	if threshold < 1 {
		threshold = DefaultRetryThreshold
	}
	return &Controller{threshold: threshold}
}

// Threshold returns the configured livelock threshold.
func (c *Controller) Threshold() int { return c.threshold }

// HandleBlock applies a block outcome. While the recovery target's retry
// count is under the threshold the loop back is automatic; once it would
// exceed the threshold the phase is marked blocked without re-entering the
// target and a RequiresHumanDecision is returned alongside the new state.
func (c *Controller) HandleBlock(state *pipeline.State, event pipeline.Event, now time.Time) (*pipeline.State, pipeline.TransitionEvent, *RequiresHumanDecision, error) {
	spec, ok := phase.Lookup(event.Phase)
	if !ok {
		return nil, pipeline.TransitionEvent{}, nil, fmt.Errorf("handle block: unknown phase %q", event.Phase)
	}
	if spec.RecoveryTarget == "" {
		return nil, pipeline.TransitionEvent{}, nil, &UnrecoverableBlockError{Phase: event.Phase, Reason: event.Reason}
	}

	target := state.Record(spec.RecoveryTarget)
	if target != nil && target.RetryCount >= c.threshold {
		event.HaltRecovery = true
	}

	next, audit, err := Transition(state, event, now)
	if err != nil {
		return nil, audit, nil, err
	}
	if !event.HaltRecovery {
		return next, audit, nil, nil
	}

	blocked := next.Record(event.Phase)
	halt := &RequiresHumanDecision{
		Phase:   event.Phase,
		Target:  spec.RecoveryTarget,
		Reasons: append([]string(nil), blocked.BlockHistory...),
	}
	if target != nil {
		halt.Retries = target.RetryCount
	}
	return next, audit, halt, nil
}

// Resolve applies a human decision to a pipeline halted on a blocked phase.
// Retry re-enters the recovery target one more time; skip is the testing
// phase's skip-with-record path; abort leaves the pipeline blocked and only
// records the choice. The controller never guesses intent: an unknown
// decision is an error.
func (c *Controller) Resolve(state *pipeline.State, decision pipeline.Decision, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	blocked := blockedPhase(state)
	if blocked == "" {
		return nil, pipeline.TransitionEvent{}, fmt.Errorf("resolve: no blocked phase awaiting a decision")
	}

	switch decision {
	case pipeline.DecisionRetry:
		return Recover(state, blocked, now)

	case pipeline.DecisionSkip:
		if blocked != phase.Testing {
			return nil, pipeline.TransitionEvent{}, fmt.Errorf("resolve: skip-with-record applies only to the %s phase, %s is blocked", phase.Testing, blocked)
		}
		record := state.Record(blocked)
		exceptions := append([]string(nil), record.BlockHistory...)
		if len(exceptions) == 0 && record.BlockedReason != "" {
			exceptions = []string{record.BlockedReason}
		}
		return Transition(state, pipeline.Event{
			Type:        pipeline.EventAdvanceWithExceptions,
			Phase:       blocked,
			BaseVersion: state.Version,
			Exceptions:  exceptions,
		}, now)

	case pipeline.DecisionAbort:
		next := state.Clone()
		ts := now.UTC()
		next.Version = state.Version + 1
		next.UpdatedAt = ts
		next.AddWarning(fmt.Sprintf("recovery of %s aborted by decision", blocked))
		audit := pipeline.TransitionEvent{
			ProjectID:   state.ProjectID,
			FromVersion: state.Version,
			ToVersion:   next.Version,
			Type:        pipeline.EventBlock,
			Phase:       blocked,
			NextPhase:   blocked,
			Detail:      "recovery aborted by decision",
			Timestamp:   ts,
		}
		return next, audit, nil

	default:
		return nil, pipeline.TransitionEvent{}, fmt.Errorf("resolve: unknown decision %q", decision)
	}
}

// PendingDecision reconstructs the decision a suspended pipeline is waiting
// on from its persisted state, or nil when the current phase is not blocked.
// Suspension survives process restarts, so the value must be derivable
// without the controller that originally produced it.
func PendingDecision(state *pipeline.State) *RequiresHumanDecision {
	record := state.Record(state.CurrentPhase)
	if record == nil || record.Status != pipeline.StatusBlocked {
		return nil
	}
	halt := &RequiresHumanDecision{
		Phase:   record.Name,
		Reasons: append([]string(nil), record.BlockHistory...),
	}
	if spec, ok := phase.Lookup(record.Name); ok && spec.RecoveryTarget != "" {
		halt.Target = spec.RecoveryTarget
		if target := state.Record(spec.RecoveryTarget); target != nil {
			halt.Retries = target.RetryCount
		}
	}
	return halt
}

// blockedPhase returns the phase currently blocked, or empty when none is.
func blockedPhase(state *pipeline.State) phase.Name {
	for _, record := range state.Phases {
		if record.Status == pipeline.StatusBlocked {
			return record.Name
		}
	}
	return ""
}
