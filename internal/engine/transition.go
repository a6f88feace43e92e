package engine

import (
	"fmt"
	"time"

	"loom/internal/phase"
	"loom/internal/pipeline"
)

// Transition computes the next legal state for a reported phase outcome.
// It is a pure function: the input state is never mutated, no I/O happens,
// and the caller is responsible for persisting the result. On any error the
// returned state is nil and the input is untouched.
func Transition(state *pipeline.State, event pipeline.Event, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	var audit pipeline.TransitionEvent

	if state == nil {
		return nil, audit, fmt.Errorf("transition: state is nil")
	}
	spec, ok := phase.Lookup(event.Phase)
	if !ok {
		return nil, audit, fmt.Errorf("transition: unknown phase %q", event.Phase)
	}
	if event.BaseVersion != state.Version {
		return nil, audit, &ReplayError{BaseVersion: event.BaseVersion, StateVersion: state.Version}
	}

	switch event.Type {
	case pipeline.EventAdvance:
		return advance(state, spec, event, now)
	case pipeline.EventBlock:
		return block(state, spec, event, now)
	case pipeline.EventAdvanceWithExceptions:
		return advanceWithExceptions(state, spec, event, now)
	default:
		return nil, audit, fmt.Errorf("transition: unknown event type %q", event.Type)
	}
}

func advance(state *pipeline.State, spec phase.Spec, event pipeline.Event, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	var audit pipeline.TransitionEvent

	if state.CurrentPhase != spec.Name {
		return nil, audit, &NotEligibleError{Phase: spec.Name, Current: state.CurrentPhase}
	}
	record := state.Record(spec.Name)
	if record == nil {
		return nil, audit, fmt.Errorf("transition: no record for phase %s", spec.Name)
	}
	if record.Status == pipeline.StatusCompleted {
		return nil, audit, fmt.Errorf("transition: phase %s is already completed", spec.Name)
	}

	if missing := missingOutputs(spec, event.Outputs); len(missing) > 0 {
		return nil, audit, &IncompleteOutputError{Phase: spec.Name, Missing: missing}
	}

	if later := completedAfter(state, spec.Name); later != "" && !event.AcknowledgeOutOfOrder {
		return nil, audit, &OutOfOrderWarning{Phase: spec.Name, CompletedLater: later}
	}

	next := state.Clone()
	rec := next.Record(spec.Name)
	ts := now.UTC()
	if rec.StartedAt == nil {
		rec.StartedAt = &ts
	}
	rec.Status = pipeline.StatusCompleted
	rec.CompletedAt = &ts
	rec.BlockedReason = ""
	rec.Outputs = bumpOutputs(rec.Outputs, event.Outputs)
	releaseRecoveredBlocks(next, spec.Name)

	detail := ""
	if later := completedAfter(state, spec.Name); later != "" {
		warning := (&OutOfOrderWarning{Phase: spec.Name, CompletedLater: later}).Error()
		next.AddWarning(warning)
		detail = warning
	}

	next.CurrentPhase = nextEligible(next)
	next.Version = state.Version + 1
	next.UpdatedAt = ts

	audit = pipeline.TransitionEvent{
		ProjectID:   state.ProjectID,
		FromVersion: state.Version,
		ToVersion:   next.Version,
		Type:        pipeline.EventAdvance,
		Phase:       spec.Name,
		NextPhase:   next.CurrentPhase,
		Detail:      detail,
		Timestamp:   ts,
	}
	return next, audit, nil
}

func block(state *pipeline.State, spec phase.Spec, event pipeline.Event, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	var audit pipeline.TransitionEvent

	if state.CurrentPhase != spec.Name {
		return nil, audit, &NotEligibleError{Phase: spec.Name, Current: state.CurrentPhase}
	}
	if spec.RecoveryTarget == "" {
		return nil, audit, &UnrecoverableBlockError{Phase: spec.Name, Reason: event.Reason}
	}

	next := state.Clone()
	ts := now.UTC()
	rec := next.Record(spec.Name)
	if rec.StartedAt == nil {
		rec.StartedAt = &ts
	}
	rec.Status = pipeline.StatusBlocked
	rec.BlockedReason = event.Reason
	rec.BlockHistory = append(rec.BlockHistory, event.Reason)

	nextPhase := spec.Name
	if !event.HaltRecovery {
		reenterRecoveryTarget(next, spec.RecoveryTarget, ts)
		nextPhase = spec.RecoveryTarget
	}
	next.CurrentPhase = nextPhase
	next.Version = state.Version + 1
	next.UpdatedAt = ts

	audit = pipeline.TransitionEvent{
		ProjectID:   state.ProjectID,
		FromVersion: state.Version,
		ToVersion:   next.Version,
		Type:        pipeline.EventBlock,
		Phase:       spec.Name,
		NextPhase:   nextPhase,
		Detail:      event.Reason,
		Timestamp:   ts,
	}
	return next, audit, nil
}

func advanceWithExceptions(state *pipeline.State, spec phase.Spec, event pipeline.Event, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	var audit pipeline.TransitionEvent

	if spec.Name != phase.Testing {
		return nil, audit, fmt.Errorf("transition: %s accepted only for the %s phase, got %s", pipeline.EventAdvanceWithExceptions, phase.Testing, spec.Name)
	}
	record := state.Record(spec.Name)
	if record == nil || record.Status != pipeline.StatusBlocked {
		return nil, audit, fmt.Errorf("transition: %s requires a blocked %s phase", pipeline.EventAdvanceWithExceptions, spec.Name)
	}
	if len(event.Exceptions) == 0 {
		return nil, audit, fmt.Errorf("transition: %s requires a non-empty exceptions list", pipeline.EventAdvanceWithExceptions)
	}

	next := state.Clone()
	ts := now.UTC()
	rec := next.Record(spec.Name)
	rec.Status = pipeline.StatusCompleted
	rec.CompletedAt = &ts
	rec.BlockedReason = ""
	rec.Exceptions = append([]string(nil), event.Exceptions...)
	outputs := event.Outputs
	if len(outputs) == 0 {
		outputs = spec.ProducedOutputs
	}
	rec.Outputs = bumpOutputs(rec.Outputs, outputs)

	next.CurrentPhase = nextEligible(next)
	next.Version = state.Version + 1
	next.UpdatedAt = ts

	audit = pipeline.TransitionEvent{
		ProjectID:   state.ProjectID,
		FromVersion: state.Version,
		ToVersion:   next.Version,
		Type:        pipeline.EventAdvanceWithExceptions,
		Phase:       spec.Name,
		NextPhase:   next.CurrentPhase,
		Detail:      fmt.Sprintf("%d exceptions recorded", len(event.Exceptions)),
		Timestamp:   ts,
	}
	return next, audit, nil
}

// Recover re-enters the recovery target of an already-blocked phase. Used by
// the retry controller when a human explicitly chooses another loop after the
// livelock guard halted automatic recovery.
func Recover(state *pipeline.State, blocked phase.Name, now time.Time) (*pipeline.State, pipeline.TransitionEvent, error) {
	var audit pipeline.TransitionEvent

	spec, ok := phase.Lookup(blocked)
	if !ok {
		return nil, audit, fmt.Errorf("recover: unknown phase %q", blocked)
	}
	if spec.RecoveryTarget == "" {
		return nil, audit, &UnrecoverableBlockError{Phase: blocked}
	}
	record := state.Record(blocked)
	if record == nil || record.Status != pipeline.StatusBlocked {
		return nil, audit, fmt.Errorf("recover: phase %s is not blocked", blocked)
	}

	next := state.Clone()
	ts := now.UTC()
	reenterRecoveryTarget(next, spec.RecoveryTarget, ts)
	next.CurrentPhase = spec.RecoveryTarget
	next.Version = state.Version + 1
	next.UpdatedAt = ts

	audit = pipeline.TransitionEvent{
		ProjectID:   state.ProjectID,
		FromVersion: state.Version,
		ToVersion:   next.Version,
		Type:        pipeline.EventBlock,
		Phase:       blocked,
		NextPhase:   spec.RecoveryTarget,
		Detail:      "recovery loop resumed by decision",
		Timestamp:   ts,
	}
	return next, audit, nil
}

// releaseRecoveredBlocks returns downstream blocked phases to pending once a
// phase at or after their recovery target has re-completed. The block reasons
// stay in BlockHistory; the phase simply becomes runnable again so the loop
// can close.
func releaseRecoveredBlocks(state *pipeline.State, completed phase.Name) {
	idx, ok := phase.Index(completed)
	if !ok {
		return
	}
	for i := idx + 1; i < len(state.Phases); i++ {
		rec := &state.Phases[i]
		if rec.Status != pipeline.StatusBlocked {
			continue
		}
		spec, ok := phase.Lookup(rec.Name)
		if !ok || spec.RecoveryTarget == "" {
			continue
		}
		if tIdx, ok := phase.Index(spec.RecoveryTarget); ok && tIdx <= idx {
			rec.Status = pipeline.StatusPending
			rec.BlockedReason = ""
			rec.StartedAt = nil
			rec.CompletedAt = nil
		}
	}
}

func reenterRecoveryTarget(state *pipeline.State, target phase.Name, ts time.Time) {
	rec := state.Record(target)
	if rec == nil {
		return
	}
	rec.Status = pipeline.StatusInProgress
	rec.RetryCount++
	rec.StartedAt = &ts
	rec.CompletedAt = nil
}

// nextEligible returns the first phase that has not completed, or empty when
// the pipeline is done. Blocked phases count as eligible so a recovered
// pipeline re-runs the phase that sent it back.
func nextEligible(state *pipeline.State) phase.Name {
	for _, record := range state.Phases {
		if record.Status != pipeline.StatusCompleted {
			return record.Name
		}
	}
	return ""
}

func missingOutputs(spec phase.Spec, reported []string) []string {
	have := make(map[string]struct{}, len(reported))
	for _, name := range reported {
		have[name] = struct{}{}
	}
	var missing []string
	for _, name := range spec.ProducedOutputs {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// completedAfter returns the first later phase already completed, or empty.
// Phases inside a live recovery loop are exempt: while a downstream phase is
// blocked with its recovery target at or before name, completions between the
// two are prior work being redone, not out-of-order progress.
func completedAfter(state *pipeline.State, name phase.Name) phase.Name {
	idx, ok := phase.Index(name)
	if !ok {
		return ""
	}
	loopEnd := -1
	for i := idx + 1; i < len(state.Phases); i++ {
		rec := state.Phases[i]
		if rec.Status != pipeline.StatusBlocked {
			continue
		}
		spec, ok := phase.Lookup(rec.Name)
		if !ok {
			continue
		}
		if tIdx, ok := phase.Index(spec.RecoveryTarget); ok && tIdx <= idx {
			loopEnd = i
			break
		}
	}
	for i := idx + 1; i < len(state.Phases); i++ {
		if i <= loopEnd {
			continue
		}
		if state.Phases[i].Status == pipeline.StatusCompleted {
			return state.Phases[i].Name
		}
	}
	return ""
}

func bumpOutputs(existing []pipeline.ArtifactRef, produced []string) []pipeline.ArtifactRef {
	prior := make(map[string]int, len(existing))
	for _, ref := range existing {
		prior[ref.Name] = ref.LogicalVersion
	}
	refs := make([]pipeline.ArtifactRef, 0, len(produced))
	for _, name := range produced {
		refs = append(refs, pipeline.ArtifactRef{Name: name, LogicalVersion: prior[name] + 1})
	}
	return refs
}
