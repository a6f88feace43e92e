package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/phase"
	"loom/internal/pipeline"
	"loom/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pipeline's phases and where control sits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}
				state, warnings, err := st.Load(cmd.Context(), projectID)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, statusDocument{State: state, Warnings: warnings})
				}
				renderStatus(cmd, state, warnings)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

type statusDocument struct {
	State    *pipeline.State `json:"state"`
	Warnings []string        `json:"warnings,omitempty"`
}

func renderStatus(cmd *cobra.Command, state *pipeline.State, warnings []string) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintf(out, "Project: %s (v%d)\n", state.ProjectID, state.Version)
	if state.Complete() {
		fmt.Fprintln(out, "Pipeline: complete")
	} else {
		fmt.Fprintf(out, "Current phase: %s\n", phase.Label(state.CurrentPhase))
	}

	rows := make([][]string, 0, len(state.Phases))
	for _, rec := range state.Phases {
		rows = append(rows, []string{
			phase.Label(rec.Name),
			colorizeStatus(rec.Status, colorize),
			strconv.Itoa(rec.RetryCount),
			formatOutputs(rec.Outputs),
			formatTimestamp(rec.CompletedAt),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Phase", "Status", "Retries", "Outputs", "Completed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))

	for _, rec := range state.Phases {
		if rec.Status == pipeline.StatusBlocked && rec.BlockedReason != "" {
			fmt.Fprintf(out, "Blocked: %s (%s)\n", phase.Label(rec.Name), rec.BlockedReason)
		}
		if len(rec.Exceptions) > 0 {
			fmt.Fprintf(out, "Exceptions recorded on %s:\n", phase.Label(rec.Name))
			for _, exc := range rec.Exceptions {
				fmt.Fprintf(out, "  - %s\n", exc)
			}
		}
	}

	for _, warning := range warnings {
		fmt.Fprintf(out, "Warning: %s\n", warning)
	}
	for _, warning := range state.Warnings {
		fmt.Fprintf(out, "Note: %s\n", warning)
	}
}

func formatOutputs(outputs []pipeline.ArtifactRef) string {
	if len(outputs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(outputs))
	for _, ref := range outputs {
		parts = append(parts, fmt.Sprintf("%s@v%d", ref.Name, ref.LogicalVersion))
	}
	return strings.Join(parts, ", ")
}

func formatTimestamp(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
