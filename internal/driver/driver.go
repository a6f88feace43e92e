package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"loom/internal/artifact"
	"loom/internal/config"
	"loom/internal/engine"
	"loom/internal/executor"
	"loom/internal/logging"
	"loom/internal/phase"
	"loom/internal/pipeline"
	"loom/internal/store"
)

// staleWriteRetries bounds reload-and-retry attempts after a stale save.
const staleWriteRetries = 3

// ErrLocked indicates another loom invocation holds the writer lock.
var ErrLocked = errors.New("another loom instance holds the lock")

// ErrStateInvalid indicates the stored pipeline state failed validation on
// load. Advancing is refused until the state is repaired or the caller
// explicitly acknowledges the condition.
var ErrStateInvalid = errors.New("pipeline state failed validation")

// Code classifies the outcome of a driver operation.
type Code string

const (
	// CodeAdvanced means the phase completed and the pipeline waits for the
	// next explicit advance (the confirmation gate between phases).
	CodeAdvanced Code = "advanced"
	// CodeComplete means every phase has finished.
	CodeComplete Code = "complete"
	// CodeLoopedBack means a block auto-routed control to the recovery
	// target.
	CodeLoopedBack Code = "looped-back"
	// CodeSuspended means the pipeline awaits a human decision.
	CodeSuspended Code = "suspended"
	// CodeHalted means automatic progress stopped for good: an aborted
	// recovery or an unrecoverable block. Reset or manual repair required.
	CodeHalted Code = "halted"
)

// Result is the first-class return value of a driver operation. Suspension
// is a value, not an exception: the caller resumes later, possibly from a
// different process, by calling back in with a decision.
type Result struct {
	Code      Code
	ProjectID string
	Phase     phase.Name
	NextPhase phase.Name
	Detail    string
	// Decision is set when Code is CodeSuspended after the livelock guard
	// tripped.
	Decision *engine.RequiresHumanDecision
}

// Driver wires the store, engine, artifact store, and executor into the
// control loop. State is only persisted after a complete phase outcome, so
// an interrupted invocation leaves the record untouched and is safely
// re-run.
type Driver struct {
	cfg        *config.Config
	store      *store.Store
	artifacts  *artifact.Store
	exec       executor.Executor
	controller *engine.Controller
	logger     *slog.Logger
	lock       *flock.Flock
}

// New constructs a driver with initialized dependencies.
func New(cfg *config.Config, st *store.Store, artifacts *artifact.Store, exec executor.Executor, logger *slog.Logger) (*Driver, error) {
	if cfg == nil || st == nil || artifacts == nil || exec == nil {
		return nil, errors.New("driver requires config, store, artifact store, and executor")
	}
	return &Driver{
		cfg:        cfg,
		store:      st,
		artifacts:  artifacts,
		exec:       exec,
		controller: engine.NewController(cfg.Pipeline.RetryThreshold),
		logger:     logging.NewComponentLogger(logger, "driver"),
		lock:       flock.New(cfg.LockPath()),
	}, nil
}

// Init creates a fresh pipeline for a new project and returns its state.
func (d *Driver) Init(ctx context.Context) (*pipeline.State, error) {
	unlock, err := d.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := d.store.ActiveProject(ctx); err == nil {
		return nil, fmt.Errorf("project %s is already active; run reset to start over", existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	state := pipeline.NewState(uuid.NewString(), time.Now())
	if err := d.store.Create(ctx, state); err != nil {
		return nil, err
	}
	d.logger.Info("pipeline created",
		logging.String(logging.FieldProjectID, state.ProjectID),
		logging.String(logging.FieldEventType, "pipeline_created"),
	)
	return state, nil
}

// Status loads the pipeline state read-only along with validation warnings.
func (d *Driver) Status(ctx context.Context, projectID string) (*pipeline.State, []string, error) {
	return d.store.Load(ctx, projectID)
}

// Reset performs the explicit start-over operation: every phase back to
// pending under a regenerated project identifier. The retired pipeline's
// transition history is preserved for audit.
func (d *Driver) Reset(ctx context.Context, projectID string) (*pipeline.State, error) {
	unlock, err := d.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	fresh := pipeline.NewState(uuid.NewString(), time.Now())
	if err := d.store.Reset(ctx, projectID, fresh); err != nil {
		return nil, err
	}
	d.logger.Info("pipeline reset",
		logging.String(logging.FieldProjectID, projectID),
		logging.String("new_project_id", fresh.ProjectID),
		logging.String(logging.FieldEventType, "pipeline_reset"),
	)
	return fresh, nil
}

func (d *Driver) acquireLock() (func(), error) {
	ok, err := d.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = d.lock.Unlock() }, nil
}

// persist runs load → mutate (pure) → save under the store's compare-and-
// swap, reloading and retrying with backoff when a concurrent writer won the
// race. mutate sees a freshly loaded state on every attempt.
func (d *Driver) persist(ctx context.Context, projectID string, mutate func(*pipeline.State) (*pipeline.State, []pipeline.TransitionEvent, error)) (*pipeline.State, error) {
	var result *pipeline.State

	op := func() error {
		state, _, err := d.store.Load(ctx, projectID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next, events, err := mutate(state)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := d.store.Save(ctx, next, state.Version, events...); err != nil {
			if errors.Is(err, store.ErrStaleWrite) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = next
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), staleWriteRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}
