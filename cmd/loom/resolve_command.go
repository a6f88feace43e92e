package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/driver"
	"loom/internal/pipeline"
	"loom/internal/store"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string

	cmd := &cobra.Command{
		Use:   "resolve <retry|skip|abort>",
		Short: "Apply a decision to a suspended pipeline",
		Long: "Apply a decision to a pipeline that stopped on a blocked phase. " +
			"retry re-enters the recovery target one more time, skip records the " +
			"outstanding blocks as known exceptions on the testing phase, abort " +
			"leaves the pipeline halted with the choice on record.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, ok := pipeline.ParseDecision(args[0])
			if !ok {
				return fmt.Errorf("unknown decision %q (want retry, skip, or abort)", args[0])
			}
			return ctx.withDriver(func(cfg *config.Config, st *store.Store, drv *driver.Driver) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}
				res, err := drv.Resolve(cmd.Context(), projectID, decision)
				if err != nil {
					return err
				}
				return reportResult(cmd, res)
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start the pipeline over under a new project ID",
		Long: "Retire the current pipeline and create a fresh one with every phase " +
			"pending. The retired pipeline's transition history is kept for audit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("reset discards pipeline progress; pass --yes to confirm")
			}
			return ctx.withDriver(func(cfg *config.Config, st *store.Store, drv *driver.Driver) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}
				fresh, err := drv.Reset(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pipeline %s retired\n", projectID)
				fmt.Fprintf(out, "Fresh pipeline %s created\n", fresh.ProjectID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the reset")
	return cmd
}
