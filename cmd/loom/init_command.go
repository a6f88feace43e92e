package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/driver"
	"loom/internal/phase"
	"loom/internal/store"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a fresh pipeline with every phase pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDriver(func(cfg *config.Config, st *store.Store, drv *driver.Driver) error {
				state, err := drv.Init(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pipeline %s created\n", state.ProjectID)
				fmt.Fprintf(out, "First phase: %s\n", phase.Label(state.CurrentPhase))
				fmt.Fprintf(out, "Workspace: %s\n", cfg.Paths.WorkspaceDir)
				return nil
			})
		},
	}
}
