package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"loom/internal/driver"
	"loom/internal/engine"
	"loom/internal/phase"
	"loom/internal/store"
)

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), exitFailure},
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), exitNotFound},
		{"suspension", suspendedError(errors.New("awaiting decision")), exitSuspended},
		{"replayed event", &engine.ReplayError{BaseVersion: 1, StateVersion: 2}, exitValidation},
		{"incomplete outputs", &engine.IncompleteOutputError{Phase: phase.Brainstorm, Missing: []string{"spec.md"}}, exitValidation},
		{"out of order", &engine.OutOfOrderWarning{Phase: phase.Planning, CompletedLater: phase.Testing}, exitValidation},
		{"invalid state", fmt.Errorf("advance: %w", driver.ErrStateInvalid), exitValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestReportResultAdvanced(t *testing.T) {
	cmd, buf := newTestCommand()

	err := reportResult(cmd, driver.Result{
		Code:      driver.CodeAdvanced,
		ProjectID: "proj-1",
		Phase:     phase.Brainstorm,
		NextPhase: phase.Planning,
	})
	if err != nil {
		t.Fatalf("reportResult: %v", err)
	}
	if !strings.Contains(buf.String(), "Brainstorm completed") {
		t.Fatalf("output %q", buf.String())
	}
}

func TestReportResultSuspendedSetsExitCode(t *testing.T) {
	cmd, buf := newTestCommand()

	err := reportResult(cmd, driver.Result{
		Code:      driver.CodeSuspended,
		ProjectID: "proj-1",
		Phase:     phase.CodeReview,
		Decision: &engine.RequiresHumanDecision{
			Phase:   phase.CodeReview,
			Target:  phase.Implementation,
			Retries: 2,
			Reasons: []string{"round one", "round two"},
		},
	})
	if err == nil {
		t.Fatal("suspension should surface as a coded error")
	}
	if exitCodeFor(err) != exitSuspended {
		t.Fatalf("exit code %d", exitCodeFor(err))
	}
	out := buf.String()
	if !strings.Contains(out, "awaits a decision") || !strings.Contains(out, "round two") {
		t.Fatalf("output %q", out)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"init", "advance", "status", "resolve", "reset", "history", "artifacts", "watch", "config"} {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Phase", "Status"},
		[][]string{{"brainstorm", "pending"}},
		[]columnAlignment{alignLeft, alignLeft},
	)
	if !strings.Contains(out, "brainstorm") || !strings.Contains(out, "Phase") {
		t.Fatalf("table output %q", out)
	}
}
