package phase

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Name identifies one of the six fixed pipeline phases.
type Name string

const (
	Brainstorm     Name = "brainstorm"
	Planning       Name = "planning"
	Implementation Name = "implementation"
	CodeReview     Name = "code-review"
	Testing        Name = "testing"
	Documentation  Name = "documentation"
)

// Canonical artifact names, each owned by exactly one phase.
const (
	ArtifactSpec       = "spec.md"
	ArtifactPlan       = "plan.md"
	ArtifactChanges    = "changes.md"
	ArtifactReview     = "review.md"
	ArtifactTestReport = "test-report.md"
	ArtifactDocs       = "docs.md"
	ArtifactFixPlan    = "fix-plan.md"
)

// Spec declares a phase's contract: what it consumes, what it must produce,
// and where control routes when it blocks. RecoveryTarget is empty for phases
// that cannot auto-loop.
type Spec struct {
	Name            Name
	RequiredInputs  []string
	ProducedOutputs []string
	RecoveryTarget  Name
}

var ordered = []Spec{
	{
		Name:            Brainstorm,
		ProducedOutputs: []string{ArtifactSpec},
	},
	{
		Name:            Planning,
		RequiredInputs:  []string{ArtifactSpec},
		ProducedOutputs: []string{ArtifactPlan},
	},
	{
		Name:            Implementation,
		RequiredInputs:  []string{ArtifactPlan},
		ProducedOutputs: []string{ArtifactChanges},
	},
	{
		Name:            CodeReview,
		RequiredInputs:  []string{ArtifactChanges},
		ProducedOutputs: []string{ArtifactReview},
		RecoveryTarget:  Implementation,
	},
	{
		Name:            Testing,
		RequiredInputs:  []string{ArtifactChanges},
		ProducedOutputs: []string{ArtifactTestReport},
		RecoveryTarget:  Implementation,
	},
	{
		Name:            Documentation,
		RequiredInputs:  []string{ArtifactChanges, ArtifactReview, ArtifactTestReport},
		ProducedOutputs: []string{ArtifactDocs},
	},
}

var indexByName = func() map[Name]int {
	m := make(map[Name]int, len(ordered))
	for i, spec := range ordered {
		m[spec.Name] = i
	}
	return m
}()

// Count is the fixed number of pipeline phases.
const Count = 6

// All returns the phases in pipeline order.
func All() []Spec {
	cp := make([]Spec, len(ordered))
	copy(cp, ordered)
	return cp
}

// Names returns the phase names in pipeline order.
func Names() []Name {
	names := make([]Name, len(ordered))
	for i, spec := range ordered {
		names[i] = spec.Name
	}
	return names
}

// Lookup returns the registry entry for a phase.
func Lookup(name Name) (Spec, bool) {
	idx, ok := indexByName[name]
	if !ok {
		return Spec{}, false
	}
	return ordered[idx], true
}

// Index returns the zero-based pipeline position of a phase.
func Index(name Name) (int, bool) {
	idx, ok := indexByName[name]
	return idx, ok
}

// Parse converts a string into a known phase name.
func Parse(value string) (Name, bool) {
	normalized := Name(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := indexByName[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// After returns the phase following name, or false when name is the last phase.
func After(name Name) (Name, bool) {
	idx, ok := indexByName[name]
	if !ok || idx+1 >= len(ordered) {
		return "", false
	}
	return ordered[idx+1].Name, true
}

var titleCaser = cases.Title(language.English)

// Label returns the user-facing display label for a phase (e.g. "Code Review").
func Label(name Name) string {
	text := strings.ReplaceAll(string(name), "-", " ")
	return titleCaser.String(text)
}
