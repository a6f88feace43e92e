package engine_test

import (
	"testing"
	"time"

	"loom/internal/engine"
	"loom/internal/phase"
	"loom/internal/pipeline"
)

func blockEvent(state *pipeline.State, name phase.Name, reason string) pipeline.Event {
	return pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       name,
		BaseVersion: state.Version,
		Reason:      reason,
	}
}

// reAdvance replays implementation after a loop back so the blocking phase
// becomes eligible again.
func reAdvance(t *testing.T, state *pipeline.State, target phase.Name) *pipeline.State {
	t.Helper()
	return advanceTo(t, state, target)
}

func TestControllerLoopsUntilThreshold(t *testing.T) {
	controller := engine.NewController(2)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.CodeReview)

	// First block: automatic loop back, retry count 1.
	next, _, halt, err := controller.HandleBlock(state, blockEvent(state, phase.CodeReview, "issue one"), time.Now())
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	if halt != nil {
		t.Fatal("first block should loop automatically")
	}
	if got := next.Record(phase.Implementation).RetryCount; got != 1 {
		t.Fatalf("retry count %d after first loop", got)
	}

	// Second block: still under threshold, retry count 2.
	state = reAdvance(t, next, phase.CodeReview)
	next, _, halt, err = controller.HandleBlock(state, blockEvent(state, phase.CodeReview, "issue two"), time.Now())
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if halt != nil {
		t.Fatal("second block should still loop automatically")
	}
	if got := next.Record(phase.Implementation).RetryCount; got != 2 {
		t.Fatalf("retry count %d after second loop", got)
	}

	// Third consecutive block trips the livelock guard.
	state = reAdvance(t, next, phase.CodeReview)
	next, _, halt, err = controller.HandleBlock(state, blockEvent(state, phase.CodeReview, "issue three"), time.Now())
	if err != nil {
		t.Fatalf("third block: %v", err)
	}
	if halt == nil {
		t.Fatal("third block should require a human decision")
	}
	if halt.Phase != phase.CodeReview || halt.Target != phase.Implementation {
		t.Fatalf("halt routing %s -> %s", halt.Phase, halt.Target)
	}
	if halt.Retries != 2 {
		t.Fatalf("halt reports %d retries, expected 2", halt.Retries)
	}
	if len(halt.Reasons) != 3 {
		t.Fatalf("halt should carry all block reasons, got %v", halt.Reasons)
	}
	if got := next.Record(phase.Implementation).RetryCount; got != 2 {
		t.Fatalf("halted block must not bump the retry count, got %d", got)
	}
	if next.CurrentPhase != phase.CodeReview {
		t.Fatalf("halted pipeline current phase %s", next.CurrentPhase)
	}
	if next.Record(phase.CodeReview).Status != pipeline.StatusBlocked {
		t.Fatal("blocking phase should stay blocked while suspended")
	}
}

func TestControllerUnrecoverableBlock(t *testing.T) {
	controller := engine.NewController(2)
	state := pipeline.NewState("proj-1", time.Now())

	_, _, _, err := controller.HandleBlock(state, blockEvent(state, phase.Brainstorm, "stuck"), time.Now())
	if err == nil {
		t.Fatal("expected error for phase without recovery target")
	}
}

func TestResolveRetry(t *testing.T) {
	controller := engine.NewController(1)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.Testing)

	// One loop back, then the guard halts the second block.
	next, _, halt, err := controller.HandleBlock(state, blockEvent(state, phase.Testing, "suite red"), time.Now())
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	state = reAdvance(t, next, phase.Testing)
	next, _, halt, err = controller.HandleBlock(state, blockEvent(state, phase.Testing, "suite still red"), time.Now())
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if halt == nil {
		t.Fatal("second block should halt at threshold 1")
	}

	resolved, audit, err := controller.Resolve(next, pipeline.DecisionRetry, time.Now())
	if err != nil {
		t.Fatalf("resolve retry: %v", err)
	}
	if resolved.CurrentPhase != phase.Implementation {
		t.Fatalf("retry should re-enter implementation, got %s", resolved.CurrentPhase)
	}
	if got := resolved.Record(phase.Implementation).RetryCount; got != 2 {
		t.Fatalf("retry count %d after explicit retry", got)
	}
	if audit.NextPhase != phase.Implementation {
		t.Fatalf("audit next phase %s", audit.NextPhase)
	}
}

func TestResolveSkipRecordsExceptions(t *testing.T) {
	controller := engine.NewController(1)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.Testing)

	next, _, _, err := controller.HandleBlock(state, blockEvent(state, phase.Testing, "suite red"), time.Now())
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	state = reAdvance(t, next, phase.Testing)
	next, _, halt, err := controller.HandleBlock(state, blockEvent(state, phase.Testing, "suite still red"), time.Now())
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if halt == nil {
		t.Fatal("expected suspension before skip")
	}

	resolved, _, err := controller.Resolve(next, pipeline.DecisionSkip, time.Now())
	if err != nil {
		t.Fatalf("resolve skip: %v", err)
	}
	rec := resolved.Record(phase.Testing)
	if rec.Status != pipeline.StatusCompleted {
		t.Fatalf("testing status %s after skip", rec.Status)
	}
	if len(rec.Exceptions) != 2 {
		t.Fatalf("expected both block reasons as exceptions, got %v", rec.Exceptions)
	}
	if resolved.CurrentPhase != phase.Documentation {
		t.Fatalf("current phase %s after skip", resolved.CurrentPhase)
	}
}

func TestResolveSkipOnlyForTesting(t *testing.T) {
	controller := engine.NewController(1)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.CodeReview)

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:         pipeline.EventBlock,
		Phase:        phase.CodeReview,
		BaseVersion:  state.Version,
		Reason:       "unsound design",
		HaltRecovery: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	if _, _, err := controller.Resolve(blocked, pipeline.DecisionSkip, time.Now()); err == nil {
		t.Fatal("skip must be rejected outside the testing phase")
	}
}

func TestResolveAbortLeavesPipelineBlocked(t *testing.T) {
	controller := engine.NewController(1)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.CodeReview)

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:         pipeline.EventBlock,
		Phase:        phase.CodeReview,
		BaseVersion:  state.Version,
		Reason:       "unsound design",
		HaltRecovery: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	resolved, audit, err := controller.Resolve(blocked, pipeline.DecisionAbort, time.Now())
	if err != nil {
		t.Fatalf("resolve abort: %v", err)
	}
	if resolved.Record(phase.CodeReview).Status != pipeline.StatusBlocked {
		t.Fatal("abort should leave the phase blocked")
	}
	if resolved.Version != blocked.Version+1 {
		t.Fatal("abort should still version the decision")
	}
	if len(resolved.Warnings) == 0 {
		t.Fatal("abort should be recorded on the state")
	}
	if audit.Detail == "" {
		t.Fatal("abort audit event should carry detail")
	}
}

func TestPendingDecisionReconstructedFromState(t *testing.T) {
	controller := engine.NewController(1)
	state := advanceTo(t, pipeline.NewState("proj-1", time.Now()), phase.CodeReview)

	if engine.PendingDecision(state) != nil {
		t.Fatal("healthy pipeline has no pending decision")
	}

	next, _, _, err := controller.HandleBlock(state, blockEvent(state, phase.CodeReview, "round one"), time.Now())
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	if engine.PendingDecision(next) != nil {
		t.Fatal("mid-loop state has no pending decision, control is on the target")
	}

	state = reAdvance(t, next, phase.CodeReview)
	next, _, halt, err := controller.HandleBlock(state, blockEvent(state, phase.CodeReview, "round two"), time.Now())
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if halt == nil {
		t.Fatal("second block should halt at threshold 1")
	}

	pending := engine.PendingDecision(next)
	if pending == nil {
		t.Fatal("halted state must report its pending decision")
	}
	if pending.Phase != phase.CodeReview || pending.Target != phase.Implementation {
		t.Fatalf("pending routing %s -> %s", pending.Phase, pending.Target)
	}
	if pending.Retries != halt.Retries {
		t.Fatalf("pending retries %d, halt reported %d", pending.Retries, halt.Retries)
	}
	if len(pending.Reasons) != 2 {
		t.Fatalf("pending reasons %v", pending.Reasons)
	}
}

func TestResolveWithoutBlockedPhase(t *testing.T) {
	controller := engine.NewController(1)
	state := pipeline.NewState("proj-1", time.Now())
	if _, _, err := controller.Resolve(state, pipeline.DecisionRetry, time.Now()); err == nil {
		t.Fatal("resolve on a healthy pipeline must fail")
	}
}

func TestNewControllerDefaultsThreshold(t *testing.T) {
	if got := engine.NewController(0).Threshold(); got != engine.DefaultRetryThreshold {
		t.Fatalf("threshold %d, expected default %d", got, engine.DefaultRetryThreshold)
	}
	if got := engine.NewController(5).Threshold(); got != 5 {
		t.Fatalf("threshold %d, expected 5", got)
	}
}
