package pipeline

import (
	"strings"
	"time"

	"loom/internal/phase"
)

// EventType enumerates the events that drive phase transitions.
type EventType string

const (
	// EventAdvance reports that the current phase completed with a set of
	// produced artifacts.
	EventAdvance EventType = "advance"
	// EventBlock reports that the current phase cannot complete without
	// upstream rework.
	EventBlock EventType = "block"
	// EventAdvanceWithExceptions completes the testing phase while recording
	// the items it skipped. Only valid from testing's recovery context with an
	// explicit skip decision.
	EventAdvanceWithExceptions EventType = "advance-with-exceptions"
)

// Event is a reported phase outcome the engine turns into a new state. The
// BaseVersion field pins the event to the state revision it was computed
// against; the engine rejects events whose base no longer matches, which is
// what makes replayed deliveries harmless.
type Event struct {
	Type        EventType
	Phase       phase.Name
	BaseVersion int64
	// Outputs are the artifact names the phase claims to have produced
	// (EventAdvance, EventAdvanceWithExceptions).
	Outputs []string
	// Reason describes why the phase blocked (EventBlock).
	Reason string
	// RecoveryArtifact is an optional artifact the blocked phase left behind
	// for its recovery target, e.g. fix-plan.md.
	RecoveryArtifact string
	// Exceptions lists skipped items (EventAdvanceWithExceptions).
	Exceptions []string
	// AcknowledgeOutOfOrder applies an Advance even though a later phase is
	// already completed. This is the audited override for out-of-order work;
	// without it the engine refuses the transition.
	AcknowledgeOutOfOrder bool
	// HaltRecovery marks the phase blocked without re-entering its recovery
	// target. Set by the retry controller when the livelock guard trips.
	HaltRecovery bool
}

// TransitionEvent is an immutable audit log entry appended for every state
// the engine computes.
type TransitionEvent struct {
	ProjectID   string     `json:"project_id"`
	FromVersion int64      `json:"from_version"`
	ToVersion   int64      `json:"to_version"`
	Type        EventType  `json:"type"`
	Phase       phase.Name `json:"phase"`
	NextPhase   phase.Name `json:"next_phase,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Decision enumerates the explicit human choices a suspended pipeline accepts.
type Decision string

const (
	// DecisionRetry loops the recovery target once more.
	DecisionRetry Decision = "retry"
	// DecisionSkip completes the testing phase with its failures recorded as
	// exceptions instead of looping back.
	DecisionSkip Decision = "skip"
	// DecisionAbort stops automatic progress; the pipeline stays blocked
	// until reset or manual repair.
	DecisionAbort Decision = "abort"
)

// ParseDecision converts a string into a known Decision.
func ParseDecision(value string) (Decision, bool) {
	normalized := Decision(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case DecisionRetry, DecisionSkip, DecisionAbort:
		return normalized, true
	default:
		return "", false
	}
}
