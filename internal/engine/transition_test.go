package engine_test

import (
	"errors"
	"testing"
	"time"

	"loom/internal/engine"
	"loom/internal/phase"
	"loom/internal/pipeline"
)

func advanceEvent(state *pipeline.State) pipeline.Event {
	spec, _ := phase.Lookup(state.CurrentPhase)
	return pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       state.CurrentPhase,
		BaseVersion: state.Version,
		Outputs:     spec.ProducedOutputs,
	}
}

// advanceTo replays advances until the named phase is current.
func advanceTo(t *testing.T, state *pipeline.State, target phase.Name) *pipeline.State {
	t.Helper()
	for state.CurrentPhase != target {
		next, _, err := engine.Transition(state, advanceEvent(state), time.Now())
		if err != nil {
			t.Fatalf("advance %s: %v", state.CurrentPhase, err)
		}
		state = next
	}
	return state
}

func TestAdvanceHappyPath(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())

	for i := 0; i < phase.Count; i++ {
		next, audit, err := engine.Transition(state, advanceEvent(state), time.Now())
		if err != nil {
			t.Fatalf("advance %s: %v", state.CurrentPhase, err)
		}
		if audit.FromVersion != state.Version || audit.ToVersion != state.Version+1 {
			t.Fatalf("audit versions %d->%d, state was at %d", audit.FromVersion, audit.ToVersion, state.Version)
		}
		state = next
	}

	if !state.Complete() {
		t.Fatal("pipeline should be complete after six advances")
	}
	if state.CurrentPhase != "" {
		t.Fatalf("complete pipeline still has current phase %s", state.CurrentPhase)
	}
	if state.Version != 7 {
		t.Fatalf("expected version 7, got %d", state.Version)
	}
	for _, rec := range state.Phases {
		if rec.Status != pipeline.StatusCompleted {
			t.Fatalf("%s not completed", rec.Name)
		}
		if rec.CompletedAt == nil {
			t.Fatalf("%s has no completion timestamp", rec.Name)
		}
		for _, ref := range rec.Outputs {
			if ref.LogicalVersion != 1 {
				t.Fatalf("%s output %s at version %d, expected 1", rec.Name, ref.Name, ref.LogicalVersion)
			}
		}
	}
}

func TestTransitionRejectsReplay(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())

	event := advanceEvent(state)
	next, _, err := engine.Transition(state, event, time.Now())
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Same event again, now against the moved state.
	if _, _, err := engine.Transition(next, event, time.Now()); !errors.Is(err, engine.ErrEventReplayed) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	var replay *engine.ReplayError
	_, _, err = engine.Transition(next, event, time.Now())
	if !errors.As(err, &replay) {
		t.Fatalf("expected ReplayError, got %T", err)
	}
	if replay.BaseVersion != 1 || replay.StateVersion != 2 {
		t.Fatalf("replay detail %d/%d", replay.BaseVersion, replay.StateVersion)
	}
}

func TestAdvanceRequiresEligiblePhase(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())

	spec, _ := phase.Lookup(phase.Planning)
	_, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Planning,
		BaseVersion: state.Version,
		Outputs:     spec.ProducedOutputs,
	}, time.Now())
	if !errors.Is(err, engine.ErrNotEligible) {
		t.Fatalf("expected eligibility rejection, got %v", err)
	}
}

func TestAdvanceRejectsIncompleteOutputs(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())

	_, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Brainstorm,
		BaseVersion: state.Version,
	}, time.Now())
	if !errors.Is(err, engine.ErrIncomplete) {
		t.Fatalf("expected incomplete-output rejection, got %v", err)
	}
	var incomplete *engine.IncompleteOutputError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteOutputError, got %T", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != phase.ArtifactSpec {
		t.Fatalf("unexpected missing set %v", incomplete.Missing)
	}
}

func TestAdvanceOutOfOrder(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	done := time.Now().UTC()
	state.Record(phase.Testing).Status = pipeline.StatusCompleted
	state.Record(phase.Testing).CompletedAt = &done

	// Refused without an explicit acknowledgement.
	_, _, err := engine.Transition(state, advanceEvent(state), time.Now())
	if !errors.Is(err, engine.ErrOutOfOrder) {
		t.Fatalf("expected out-of-order rejection, got %v", err)
	}

	// Acknowledged: applied, flagged, never silently reordered.
	event := advanceEvent(state)
	event.AcknowledgeOutOfOrder = true
	next, audit, err := engine.Transition(state, event, time.Now())
	if err != nil {
		t.Fatalf("acknowledged advance: %v", err)
	}
	if len(next.Warnings) == 0 {
		t.Fatal("acknowledged out-of-order advance should record a warning")
	}
	if audit.Detail == "" {
		t.Fatal("audit event should carry the out-of-order detail")
	}
	if next.Record(phase.Testing).Status != pipeline.StatusCompleted {
		t.Fatal("downstream completed work must survive the override")
	}
}

func TestBlockLoopsBackToRecoveryTarget(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.CodeReview)

	next, audit, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       phase.CodeReview,
		BaseVersion: state.Version,
		Reason:      "nil dereference in handler",
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	review := next.Record(phase.CodeReview)
	if review.Status != pipeline.StatusBlocked || review.BlockedReason == "" {
		t.Fatalf("code-review record %+v", review)
	}
	if len(review.BlockHistory) != 1 {
		t.Fatalf("expected one block history entry, got %v", review.BlockHistory)
	}

	impl := next.Record(phase.Implementation)
	if impl.Status != pipeline.StatusInProgress {
		t.Fatalf("implementation should be re-entered, got %s", impl.Status)
	}
	if impl.RetryCount != 1 {
		t.Fatalf("implementation retry count %d, expected 1", impl.RetryCount)
	}
	if impl.CompletedAt != nil {
		t.Fatal("re-entered implementation should lose its completion timestamp")
	}
	if next.CurrentPhase != phase.Implementation {
		t.Fatalf("current phase %s, expected implementation", next.CurrentPhase)
	}
	if audit.NextPhase != phase.Implementation {
		t.Fatalf("audit next phase %s", audit.NextPhase)
	}
}

func TestBlockWithoutRecoveryTargetIsUnrecoverable(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())

	_, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       phase.Brainstorm,
		BaseVersion: state.Version,
		Reason:      "no viable direction",
	}, time.Now())
	if !errors.Is(err, engine.ErrUnrecoverable) {
		t.Fatalf("expected unrecoverable block, got %v", err)
	}
}

func TestBlockWithHaltSkipsReentry(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.Testing)

	next, _, err := engine.Transition(state, pipeline.Event{
		Type:         pipeline.EventBlock,
		Phase:        phase.Testing,
		BaseVersion:  state.Version,
		Reason:       "flaky integration suite",
		HaltRecovery: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if next.CurrentPhase != phase.Testing {
		t.Fatalf("halted block moved control to %s", next.CurrentPhase)
	}
	if next.Record(phase.Implementation).Status != pipeline.StatusCompleted {
		t.Fatal("halted block must not re-enter the recovery target")
	}
}

func TestAdvanceReleasesRecoveredBlock(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.CodeReview)

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       phase.CodeReview,
		BaseVersion: state.Version,
		Reason:      "missing error paths",
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	next, _, err := engine.Transition(blocked, advanceEvent(blocked), time.Now())
	if err != nil {
		t.Fatalf("re-advance implementation: %v", err)
	}

	review := next.Record(phase.CodeReview)
	if review.Status != pipeline.StatusPending {
		t.Fatalf("code-review status %s, expected pending after rework", review.Status)
	}
	if review.BlockedReason != "" {
		t.Fatalf("blocked reason %q should be cleared on release", review.BlockedReason)
	}
	if len(review.BlockHistory) != 1 {
		t.Fatalf("block history %v must survive the release", review.BlockHistory)
	}
	if next.CurrentPhase != phase.CodeReview {
		t.Fatalf("current phase %s, expected the released phase to run next", next.CurrentPhase)
	}
}

func TestReworkAllowedDuringTestingRecoveryLoop(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.Testing)

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       phase.Testing,
		BaseVersion: state.Version,
		Reason:      "suite red",
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.CurrentPhase != phase.Implementation {
		t.Fatalf("testing should loop back to implementation, got %s", blocked.CurrentPhase)
	}

	// Code-review sits completed between the loop's endpoints; re-completing
	// implementation is rework inside the loop, not out-of-order progress.
	next, _, err := engine.Transition(blocked, advanceEvent(blocked), time.Now())
	if err != nil {
		t.Fatalf("re-advance implementation: %v", err)
	}
	if len(next.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", next.Warnings)
	}
	if next.Record(phase.CodeReview).Status != pipeline.StatusCompleted {
		t.Fatal("code-review must stay completed across the loop")
	}
	if next.Record(phase.Testing).Status != pipeline.StatusPending {
		t.Fatalf("testing status %s, expected pending", next.Record(phase.Testing).Status)
	}
	if next.CurrentPhase != phase.Testing {
		t.Fatalf("current phase %s, expected testing to re-run", next.CurrentPhase)
	}
}

func TestAdvanceWithExceptions(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.Testing)

	// Only a blocked testing phase accepts the skip-with-record path.
	_, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvanceWithExceptions,
		Phase:       phase.Testing,
		BaseVersion: state.Version,
		Exceptions:  []string{"flaky suite"},
	}, time.Now())
	if err == nil {
		t.Fatal("expected rejection while testing is not blocked")
	}

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:         pipeline.EventBlock,
		Phase:        phase.Testing,
		BaseVersion:  state.Version,
		Reason:       "flaky suite",
		HaltRecovery: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	// Empty exceptions list never passes.
	_, _, err = engine.Transition(blocked, pipeline.Event{
		Type:        pipeline.EventAdvanceWithExceptions,
		Phase:       phase.Testing,
		BaseVersion: blocked.Version,
	}, time.Now())
	if err == nil {
		t.Fatal("expected rejection for empty exceptions list")
	}

	next, audit, err := engine.Transition(blocked, pipeline.Event{
		Type:        pipeline.EventAdvanceWithExceptions,
		Phase:       phase.Testing,
		BaseVersion: blocked.Version,
		Exceptions:  []string{"flaky suite"},
	}, time.Now())
	if err != nil {
		t.Fatalf("advance with exceptions: %v", err)
	}
	rec := next.Record(phase.Testing)
	if rec.Status != pipeline.StatusCompleted {
		t.Fatalf("testing status %s", rec.Status)
	}
	if len(rec.Exceptions) != 1 || rec.Exceptions[0] != "flaky suite" {
		t.Fatalf("exceptions %v", rec.Exceptions)
	}
	if rec.OutputVersion(phase.ArtifactTestReport) != 1 {
		t.Fatal("skip-with-record should still register the declared output")
	}
	if next.CurrentPhase != phase.Documentation {
		t.Fatalf("current phase %s, expected documentation", next.CurrentPhase)
	}
	if audit.Detail == "" {
		t.Fatal("audit detail should mention recorded exceptions")
	}
}

func TestAdvanceWithExceptionsOnlyForTesting(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	_, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvanceWithExceptions,
		Phase:       phase.CodeReview,
		BaseVersion: state.Version,
		Exceptions:  []string{"x"},
	}, time.Now())
	if err == nil {
		t.Fatal("expected rejection for non-testing phase")
	}
}

func TestOutputVersionBumpsOnRegeneration(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	state = advanceTo(t, state, phase.CodeReview)

	blocked, _, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventBlock,
		Phase:       phase.CodeReview,
		BaseVersion: state.Version,
		Reason:      "broken error handling",
	}, time.Now())
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	// Implementation rewrites changes.md on its second run.
	again, _, err := engine.Transition(blocked, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Implementation,
		BaseVersion: blocked.Version,
		Outputs:     []string{phase.ArtifactChanges},
	}, time.Now())
	if err != nil {
		t.Fatalf("re-advance implementation: %v", err)
	}
	if got := again.Record(phase.Implementation).OutputVersion(phase.ArtifactChanges); got != 2 {
		t.Fatalf("changes.md logical version %d, expected 2", got)
	}
	if again.CurrentPhase != phase.CodeReview {
		t.Fatalf("current phase %s, expected code-review to re-run", again.CurrentPhase)
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	state := pipeline.NewState("proj-1", time.Now())
	before := state.Clone()

	if _, _, err := engine.Transition(state, advanceEvent(state), time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if state.Version != before.Version {
		t.Fatal("input state version mutated")
	}
	if state.Record(phase.Brainstorm).Status != before.Record(phase.Brainstorm).Status {
		t.Fatal("input state record mutated")
	}
}
