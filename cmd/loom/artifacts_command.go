package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/artifact"
	"loom/internal/config"
	"loom/internal/phase"
	"loom/internal/store"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List workspace artifacts and their logical versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}
				state, _, err := st.Load(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				artifacts, err := artifact.NewStore(cfg.Paths.WorkspaceDir)
				if err != nil {
					return err
				}
				infos, err := artifacts.Snapshot(state)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, infos)
				}
				renderArtifacts(cmd, cfg.Paths.WorkspaceDir, infos)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderArtifacts(cmd *cobra.Command, workspace string, infos []artifact.Info) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workspace: %s\n", workspace)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No artifacts recorded")
		return
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		modified := "-"
		if info.Exists && !info.ModTime.IsZero() {
			modified = info.ModTime.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			info.Name,
			phase.Label(info.ProducedBy),
			strconv.Itoa(info.LogicalVersion),
			yesNo(info.Exists),
			yesNo(info.Stale),
			modified,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Artifact", "Produced By", "Version", "On Disk", "Stale", "Modified"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	))
}
