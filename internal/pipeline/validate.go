package pipeline

import (
	"fmt"

	"loom/internal/phase"
)

// Validate checks the whole-pipeline ordering invariant. The steady-state
// rule is that completed phases form a prefix, exactly one phase is active,
// and everything after it is pending. Recovery loops are the documented
// exception: a blocked downstream phase may coexist with its in-progress
// recovery target, and phases between the two keep their completed status.
//
// Violations are returned as warnings rather than errors so a damaged
// on-disk record can still be loaded and inspected; the caller decides
// whether to halt.
func (s *State) Validate() []string {
	var warnings []string

	expected := phase.Names()
	if len(s.Phases) != phase.Count {
		warnings = append(warnings, fmt.Sprintf("expected %d phases, found %d", phase.Count, len(s.Phases)))
	}
	for i, record := range s.Phases {
		if i < len(expected) && record.Name != expected[i] {
			warnings = append(warnings, fmt.Sprintf("phase %d is %q, expected %q", i, record.Name, expected[i]))
		}
		if _, ok := statusSet[record.Status]; !ok {
			warnings = append(warnings, fmt.Sprintf("phase %s has unknown status %q", record.Name, record.Status))
		}
	}

	inProgress := 0
	for _, record := range s.Phases {
		if record.Status == StatusInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		warnings = append(warnings, fmt.Sprintf("%d phases are in progress at once; expected at most one", inProgress))
	}

	// Once a pending phase appears, everything after it must still be
	// pending. A completed or active phase past that point means work ran
	// out of order.
	pendingSeen := false
	for _, record := range s.Phases {
		if record.Status == StatusPending {
			pendingSeen = true
			continue
		}
		if pendingSeen {
			warnings = append(warnings, fmt.Sprintf("phase %s is %s but an earlier phase is still pending", record.Name, record.Status))
		}
	}

	if s.CurrentPhase != "" {
		if _, ok := phase.Lookup(s.CurrentPhase); !ok {
			warnings = append(warnings, fmt.Sprintf("current phase %q is not a known phase", s.CurrentPhase))
		}
	} else if !s.Complete() {
		warnings = append(warnings, "no current phase set but the pipeline is not complete")
	}

	return warnings
}
