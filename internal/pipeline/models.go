package pipeline

import (
	"strings"
	"time"

	"loom/internal/phase"
)

// Status represents a phase's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

var statusSet = map[Status]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusBlocked:    {},
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ArtifactRef is a named, versioned output recorded against the phase that
// produced it. LogicalVersion bumps each time the phase regenerates the
// artifact; on-disk existence is always derived, never stored here.
type ArtifactRef struct {
	Name           string `json:"name"`
	LogicalVersion int    `json:"logical_version"`
}

// PhaseRecord is the persisted per-phase slice of the pipeline aggregate.
// It is mutated exclusively by the transition engine.
type PhaseRecord struct {
	Name          phase.Name    `json:"name"`
	Status        Status        `json:"status"`
	Outputs       []ArtifactRef `json:"outputs,omitempty"`
	RetryCount    int           `json:"retry_count"`
	BlockedReason string        `json:"blocked_reason,omitempty"`
	BlockHistory  []string      `json:"block_history,omitempty"`
	Exceptions    []string      `json:"exceptions,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// OutputVersion returns the recorded logical version for a named artifact.
func (r *PhaseRecord) OutputVersion(name string) int {
	for _, ref := range r.Outputs {
		if ref.Name == name {
			return ref.LogicalVersion
		}
	}
	return 0
}

// State is the single root aggregate, one instance per project. Version is
// the monotonic compare-and-swap counter enforced by the store on save.
type State struct {
	ProjectID    string        `json:"project_id"`
	Version      int64         `json:"version"`
	CurrentPhase phase.Name    `json:"current_phase,omitempty"`
	Phases       []PhaseRecord `json:"phases"`
	Warnings     []string      `json:"warnings,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewState builds a fresh pipeline with every phase pending and the first
// phase eligible to run.
func NewState(projectID string, now time.Time) *State {
	names := phase.Names()
	records := make([]PhaseRecord, len(names))
	for i, name := range names {
		records[i] = PhaseRecord{Name: name, Status: StatusPending}
	}
	return &State{
		ProjectID:    projectID,
		Version:      1,
		CurrentPhase: names[0],
		Phases:       records,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// Record returns the phase record for name, or nil when unknown.
func (s *State) Record(name phase.Name) *PhaseRecord {
	for i := range s.Phases {
		if s.Phases[i].Name == name {
			return &s.Phases[i]
		}
	}
	return nil
}

// Complete reports whether every phase has finished.
func (s *State) Complete() bool {
	for _, record := range s.Phases {
		if record.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the state. The transition engine operates on
// copies so a rejected event never leaves a half-mutated aggregate behind.
func (s *State) Clone() *State {
	cp := *s
	cp.Phases = make([]PhaseRecord, len(s.Phases))
	for i, record := range s.Phases {
		rec := record
		rec.Outputs = append([]ArtifactRef(nil), record.Outputs...)
		rec.BlockHistory = append([]string(nil), record.BlockHistory...)
		rec.Exceptions = append([]string(nil), record.Exceptions...)
		if record.StartedAt != nil {
			t := *record.StartedAt
			rec.StartedAt = &t
		}
		if record.CompletedAt != nil {
			t := *record.CompletedAt
			rec.CompletedAt = &t
		}
		cp.Phases[i] = rec
	}
	cp.Warnings = append([]string(nil), s.Warnings...)
	return &cp
}

// AddWarning appends a warning once; duplicates are dropped so repeated
// validation passes do not grow the set.
func (s *State) AddWarning(warning string) {
	for _, existing := range s.Warnings {
		if existing == warning {
			return
		}
	}
	s.Warnings = append(s.Warnings, warning)
}
