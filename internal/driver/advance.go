package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/engine"
	"loom/internal/executor"
	"loom/internal/logging"
	"loom/internal/phase"
	"loom/internal/pipeline"
)

// AdvanceOptions tunes one advance invocation.
type AdvanceOptions struct {
	// AcknowledgeOutOfOrder applies an advance that would otherwise be
	// refused for completing ahead of an already completed later phase. The
	// override is recorded on the state as a warning.
	AcknowledgeOutOfOrder bool
}

// AdvanceOnce executes exactly one phase and persists its outcome. The
// pause between phases is structural: each completed phase returns control
// to the caller, and nothing moves until the next invocation. A cancelled
// context before or during execution leaves the stored state untouched.
func (d *Driver) AdvanceOnce(ctx context.Context, projectID string, opts AdvanceOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	unlock, err := d.acquireLock()
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	state, warnings, err := d.store.Load(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	if len(warnings) > 0 && !opts.AcknowledgeOutOfOrder {
		return Result{}, fmt.Errorf("%w: %s", ErrStateInvalid, warnings[0])
	}

	res := Result{ProjectID: state.ProjectID}
	if state.Complete() {
		res.Code = CodeComplete
		return res, nil
	}
	// A blocked current phase only persists after the livelock guard tripped
	// or an abort; mid-loop states park control on the recovery target
	// instead. Either way a decision is outstanding.
	if decision := engine.PendingDecision(state); decision != nil {
		res.Code = CodeSuspended
		res.Phase = state.CurrentPhase
		res.Detail = state.Record(state.CurrentPhase).BlockedReason
		res.Decision = decision
		return res, nil
	}

	current := state.CurrentPhase
	spec, ok := phase.Lookup(current)
	if !ok {
		return Result{}, fmt.Errorf("state names unknown phase %q", current)
	}

	req, err := d.buildRequest(state, spec)
	if err != nil {
		return Result{}, err
	}

	ctx = logging.WithProjectID(ctx, state.ProjectID)
	ctx = logging.WithPhase(ctx, string(current))
	log := logging.WithContext(ctx, d.logger)
	log.Info("phase starting", logging.String(logging.FieldEventType, "phase_started"))

	started := time.Now()
	outcome, err := d.exec.Run(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", current, err)
	}
	if verr := outcome.Validate(); verr != nil {
		outcome = executor.Outcome{Kind: executor.OutcomeFailed, Err: verr}
	}

	switch outcome.Kind {
	case executor.OutcomeCompleted:
		return d.applyCompleted(ctx, log, state.ProjectID, current, outcome, opts, time.Since(started))
	case executor.OutcomeBlocked:
		return d.applyBlocked(ctx, log, state.ProjectID, current, outcome)
	default:
		log.Error("phase failed",
			logging.Error(outcome.Err),
			logging.String(logging.FieldErrorHint, "state was not modified, the phase can be re-run"),
		)
		return Result{}, fmt.Errorf("%s failed: %w", current, outcome.Err)
	}
}

func (d *Driver) applyCompleted(ctx context.Context, log *slog.Logger, projectID string, current phase.Name, outcome executor.Outcome, opts AdvanceOptions, elapsed time.Duration) (Result, error) {
	// The executor's word alone is not enough: claimed outputs must exist
	// in the workspace before the completion is persisted.
	if missing, err := d.artifacts.Missing(outcome.Outputs); err != nil {
		return Result{}, err
	} else if len(missing) > 0 {
		return Result{}, fmt.Errorf("%s reported outputs that are absent from the workspace: %v", current, missing)
	}

	next, err := d.persist(ctx, projectID, func(state *pipeline.State) (*pipeline.State, []pipeline.TransitionEvent, error) {
		updated, audit, err := engine.Transition(state, pipeline.Event{
			Type:                  pipeline.EventAdvance,
			Phase:                 current,
			BaseVersion:           state.Version,
			Outputs:               outcome.Outputs,
			AcknowledgeOutOfOrder: opts.AcknowledgeOutOfOrder,
		}, time.Now())
		if err != nil {
			return nil, nil, err
		}
		return updated, []pipeline.TransitionEvent{audit}, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{ProjectID: next.ProjectID, Phase: current}
	if next.Complete() {
		res.Code = CodeComplete
		log.Info("pipeline complete",
			logging.String(logging.FieldEventType, "pipeline_completed"),
			logging.Duration("elapsed", elapsed),
			logging.Int64("version", next.Version),
		)
	} else {
		res.Code = CodeAdvanced
		res.NextPhase = next.CurrentPhase
		log.Info("phase completed",
			logging.String(logging.FieldEventType, "phase_completed"),
			logging.String("next_phase", string(next.CurrentPhase)),
			logging.Any("outputs", outcome.Outputs),
			logging.Duration("elapsed", elapsed),
			logging.Int64("version", next.Version),
		)
	}
	return res, nil
}

func (d *Driver) applyBlocked(ctx context.Context, log *slog.Logger, projectID string, current phase.Name, outcome executor.Outcome) (Result, error) {
	var halt *engine.RequiresHumanDecision

	next, err := d.persist(ctx, projectID, func(state *pipeline.State) (*pipeline.State, []pipeline.TransitionEvent, error) {
		halt = nil
		updated, audit, h, err := d.controller.HandleBlock(state, pipeline.Event{
			Type:             pipeline.EventBlock,
			Phase:            current,
			BaseVersion:      state.Version,
			Reason:           outcome.Reason,
			RecoveryArtifact: outcome.RecoveryArtifact,
		}, time.Now())
		if err != nil {
			return nil, nil, err
		}
		halt = h
		return updated, []pipeline.TransitionEvent{audit}, nil
	})
	if err != nil {
		var unrec *engine.UnrecoverableBlockError
		if errors.As(err, &unrec) {
			log.Error("phase blocked with no recovery route", logging.String("reason", unrec.Reason))
			return Result{
				Code:      CodeHalted,
				ProjectID: projectID,
				Phase:     current,
				Detail:    unrec.Reason,
			}, nil
		}
		return Result{}, err
	}

	res := Result{ProjectID: next.ProjectID, Phase: current, Detail: outcome.Reason}
	if halt != nil {
		res.Code = CodeSuspended
		res.Decision = halt
		log.Warn("recovery loop limit reached, awaiting decision",
			logging.String(logging.FieldEventType, "human_decision_required"),
			logging.Int("retries", halt.Retries),
		)
	} else {
		res.Code = CodeLoopedBack
		res.NextPhase = next.CurrentPhase
		log.Info("phase blocked, looping back",
			logging.String(logging.FieldEventType, "phase_blocked"),
			logging.String("recovery_target", string(next.CurrentPhase)),
			logging.String("reason", outcome.Reason),
		)
	}
	return res, nil
}

// buildRequest resolves the phase's required inputs to workspace paths at
// their recorded logical versions.
func (d *Driver) buildRequest(state *pipeline.State, spec phase.Spec) (executor.Request, error) {
	req := executor.Request{ProjectID: state.ProjectID, Phase: spec.Name}

	if missing, err := d.artifacts.Missing(spec.RequiredInputs); err != nil {
		return req, err
	} else if len(missing) > 0 {
		return req, fmt.Errorf("%s cannot start, required inputs missing: %v", spec.Name, missing)
	}

	for _, name := range spec.RequiredInputs {
		path, err := d.artifacts.Path(name)
		if err != nil {
			return req, err
		}
		ref := executor.ArtifactRef{Name: name, Path: path}
		for _, rec := range state.Phases {
			for _, out := range rec.Outputs {
				if out.Name == name {
					ref.LogicalVersion = out.LogicalVersion
				}
			}
		}
		req.Inputs = append(req.Inputs, ref)
	}
	return req, nil
}
