package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/phase"
)

// CommandExecutor shells out to a configured per-phase command. The command
// runs with the workspace as working directory and must write a JSON outcome
// file before exiting; anything else fails closed.
type CommandExecutor struct {
	workspace   string
	commands    map[string]string
	outcomeFile string
	timeout     time.Duration
}

// NewCommandExecutor builds an executor from configuration.
func NewCommandExecutor(cfg *config.Config) *CommandExecutor {
	return &CommandExecutor{
		workspace:   cfg.Paths.WorkspaceDir,
		commands:    cfg.Executor.Commands,
		outcomeFile: cfg.Executor.OutcomeFile,
		timeout:     time.Duration(cfg.Executor.TimeoutSeconds) * time.Second,
	}
}

// outcomeDocument is the wire shape a phase command writes.
type outcomeDocument struct {
	Status           string   `json:"status"`
	Outputs          []string `json:"outputs,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	RecoveryArtifact string   `json:"recovery_artifact,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Run invokes the phase command and parses its outcome file.
func (e *CommandExecutor) Run(ctx context.Context, req Request) (Outcome, error) {
	command, ok := e.commands[string(req.Phase)]
	if !ok || strings.TrimSpace(command) == "" {
		return failed(fmt.Errorf("no command configured for phase %s", req.Phase)), nil
	}

	outcomePath := filepath.Join(e.workspace, e.outcomeFile)
	// A leftover outcome from an earlier run must never be mistaken for this
	// invocation's result.
	if err := os.Remove(outcomePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Outcome{}, fmt.Errorf("clear outcome file: %w", err)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = e.workspace
	cmd.Env = append(os.Environ(),
		"LOOM_PROJECT_ID="+req.ProjectID,
		"LOOM_PHASE="+string(req.Phase),
		"LOOM_OUTCOME_FILE="+outcomePath,
	)

	output, err := cmd.CombinedOutput()
	if runCtx.Err() != nil {
		return Outcome{}, runCtx.Err()
	}
	if err != nil {
		return failed(fmt.Errorf("phase command failed: %w: %s", err, trimOutput(output))), nil
	}

	return e.readOutcome(outcomePath, req.Phase)
}

func (e *CommandExecutor) readOutcome(path string, name phase.Name) (Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failed(fmt.Errorf("%w: phase %s left no outcome file", ErrMalformedOutcome, name)), nil
		}
		return Outcome{}, fmt.Errorf("read outcome file: %w", err)
	}

	var doc outcomeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return failed(fmt.Errorf("%w: %v", ErrMalformedOutcome, err)), nil
	}

	outcome := Outcome{
		Outputs:          doc.Outputs,
		Reason:           doc.Reason,
		RecoveryArtifact: doc.RecoveryArtifact,
	}
	switch strings.ToLower(strings.TrimSpace(doc.Status)) {
	case "completed":
		outcome.Kind = OutcomeCompleted
	case "blocked":
		outcome.Kind = OutcomeBlocked
	case "failed":
		outcome.Kind = OutcomeFailed
		message := strings.TrimSpace(doc.Error)
		if message == "" {
			message = "phase reported failure"
		}
		outcome.Err = errors.New(message)
	default:
		return failed(fmt.Errorf("%w: unknown status %q", ErrMalformedOutcome, doc.Status)), nil
	}

	if err := outcome.Validate(); err != nil {
		return failed(err), nil
	}
	return outcome, nil
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

func trimOutput(output []byte) string {
	text := strings.TrimSpace(string(output))
	const limit = 512
	if len(text) > limit {
		text = text[:limit] + "..."
	}
	return text
}
