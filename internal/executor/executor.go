package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"loom/internal/phase"
)

// OutcomeKind enumerates the shapes a phase outcome may take.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeBlocked   OutcomeKind = "blocked"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the structured result a phase reports back. The orchestration
// core never inspects how the phase produced it, only its shape.
type Outcome struct {
	Kind OutcomeKind
	// Outputs lists artifact names produced (Kind == OutcomeCompleted).
	Outputs []string
	// Reason describes why the phase blocked (Kind == OutcomeBlocked).
	Reason string
	// RecoveryArtifact is an optional artifact left for the recovery target,
	// e.g. fix-plan.md (Kind == OutcomeBlocked).
	RecoveryArtifact string
	// Err carries the fatal error (Kind == OutcomeFailed).
	Err error
}

// Request describes one phase invocation.
type Request struct {
	ProjectID string
	Phase     phase.Name
	// Inputs are the artifact paths the phase may read, resolved against the
	// workspace.
	Inputs []ArtifactRef
}

// ArtifactRef points a phase at an input artifact and the logical version
// the pipeline expects it to be at.
type ArtifactRef struct {
	Name           string
	Path           string
	LogicalVersion int
}

// Executor is the external collaborator boundary. Implementations own all
// domain content generation; the engine only sees the outcome's shape.
type Executor interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// ErrMalformedOutcome indicates an outcome that violates the contract.
// Malformed outcomes fail closed: callers treat them as OutcomeFailed.
var ErrMalformedOutcome = errors.New("malformed phase outcome")

// Validate checks an outcome's shape against the contract.
func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeCompleted:
		if len(o.Outputs) == 0 {
			return fmt.Errorf("%w: completed outcome with no outputs", ErrMalformedOutcome)
		}
	case OutcomeBlocked:
		if strings.TrimSpace(o.Reason) == "" {
			return fmt.Errorf("%w: blocked outcome with no reason", ErrMalformedOutcome)
		}
	case OutcomeFailed:
		if o.Err == nil {
			return fmt.Errorf("%w: failed outcome with no error", ErrMalformedOutcome)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOutcome, o.Kind)
	}
	return nil
}
