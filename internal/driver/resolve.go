package driver

import (
	"context"
	"time"

	"loom/internal/logging"
	"loom/internal/pipeline"
)

// Resolve applies a human decision to a suspended pipeline and persists the
// result. Retry loops back into the recovery target, skip records the
// outstanding blocks as exceptions on the testing phase, abort leaves the
// pipeline halted with the choice on record.
func (d *Driver) Resolve(ctx context.Context, projectID string, decision pipeline.Decision) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	unlock, err := d.acquireLock()
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	next, err := d.persist(ctx, projectID, func(state *pipeline.State) (*pipeline.State, []pipeline.TransitionEvent, error) {
		updated, audit, err := d.controller.Resolve(state, decision, time.Now())
		if err != nil {
			return nil, nil, err
		}
		return updated, []pipeline.TransitionEvent{audit}, nil
	})
	if err != nil {
		return Result{}, err
	}

	d.logger.Info("decision applied",
		logging.String(logging.FieldProjectID, next.ProjectID),
		logging.String(logging.FieldEventType, "decision_applied"),
		logging.String("decision", string(decision)),
		logging.Bool("pipeline_complete", next.Complete()),
	)

	res := Result{ProjectID: next.ProjectID, Phase: next.CurrentPhase}
	switch decision {
	case pipeline.DecisionRetry:
		res.Code = CodeLoopedBack
		res.NextPhase = next.CurrentPhase
	case pipeline.DecisionSkip:
		if next.Complete() {
			res.Code = CodeComplete
		} else {
			res.Code = CodeAdvanced
			res.NextPhase = next.CurrentPhase
		}
	case pipeline.DecisionAbort:
		res.Code = CodeHalted
		res.Detail = "recovery aborted"
	}
	return res, nil
}

// Run advances the pipeline repeatedly until it completes, suspends, or a
// phase needs confirmation. With confirm_between_phases enabled it stops
// after the first phase like AdvanceOnce.
func (d *Driver) Run(ctx context.Context, projectID string, opts AdvanceOptions) (Result, error) {
	for {
		res, err := d.AdvanceOnce(ctx, projectID, opts)
		if err != nil {
			return res, err
		}
		switch res.Code {
		case CodeAdvanced, CodeLoopedBack:
			if d.cfg.Pipeline.ConfirmBetweenPhases {
				return res, nil
			}
		default:
			return res, nil
		}
	}
}
