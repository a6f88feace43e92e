package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/pipeline"
	"loom/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the pipeline's transition log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}
				events, err := st.History(cmd.Context(), projectID)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, events)
				}
				renderHistory(cmd, events)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderHistory(cmd *cobra.Command, events []pipeline.TransitionEvent) {
	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No transitions recorded")
		return
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			strconv.FormatInt(ev.ToVersion, 10),
			string(ev.Type),
			string(ev.Phase),
			string(ev.NextPhase),
			ev.Detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Time", "Version", "Event", "Phase", "Next", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	))
}
