package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/driver"
	"loom/internal/phase"
	"loom/internal/store"
)

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string
	var ackOutOfOrder bool
	var runAll bool

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Execute the next eligible phase",
		Long: "Execute the next eligible phase and persist its outcome. By default one " +
			"phase runs per invocation; --all keeps going until the pipeline completes, " +
			"blocks, or pauses for a decision.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDriver(func(cfg *config.Config, st *store.Store, drv *driver.Driver) error {
				projectID, err := resolveProject(cmd.Context(), st, projectFlag)
				if err != nil {
					return err
				}

				opts := driver.AdvanceOptions{AcknowledgeOutOfOrder: ackOutOfOrder}
				var res driver.Result
				if runAll {
					res, err = drv.Run(cmd.Context(), projectID, opts)
				} else {
					res, err = drv.AdvanceOnce(cmd.Context(), projectID, opts)
				}
				if err != nil {
					return err
				}
				return reportResult(cmd, res)
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	cmd.Flags().BoolVar(&ackOutOfOrder, "acknowledge-out-of-order", false, "Apply a completion that lands ahead of an already completed later phase")
	cmd.Flags().BoolVar(&runAll, "all", false, "Advance repeatedly until the pipeline stops on its own")
	return cmd
}

// reportResult prints a driver result and maps suspension onto its exit
// code so scripts can branch on it.
func reportResult(cmd *cobra.Command, res driver.Result) error {
	out := cmd.OutOrStdout()
	switch res.Code {
	case driver.CodeComplete:
		fmt.Fprintln(out, "Pipeline complete")
		return nil
	case driver.CodeAdvanced:
		fmt.Fprintf(out, "%s completed; next phase is %s\n", phase.Label(res.Phase), phase.Label(res.NextPhase))
		return nil
	case driver.CodeLoopedBack:
		fmt.Fprintf(out, "%s blocked; looping back to %s\n", phase.Label(res.Phase), phase.Label(res.NextPhase))
		if res.Detail != "" {
			fmt.Fprintf(out, "Reason: %s\n", res.Detail)
		}
		return nil
	case driver.CodeSuspended:
		fmt.Fprintf(out, "%s is blocked and awaits a decision\n", phase.Label(res.Phase))
		if res.Decision != nil {
			fmt.Fprintf(out, "Recovery via %s already ran %d time(s)\n", phase.Label(res.Decision.Target), res.Decision.Retries)
			for _, reason := range res.Decision.Reasons {
				fmt.Fprintf(out, "  - %s\n", reason)
			}
		} else if res.Detail != "" {
			fmt.Fprintf(out, "Reason: %s\n", res.Detail)
		}
		fmt.Fprintln(out, "Run `loom resolve retry|skip|abort` to continue")
		return suspendedError(fmt.Errorf("pipeline suspended on %s", res.Phase))
	case driver.CodeHalted:
		fmt.Fprintf(out, "%s halted: %s\n", phase.Label(res.Phase), res.Detail)
		fmt.Fprintln(out, "Manual intervention required; `loom reset` starts over")
		return suspendedError(fmt.Errorf("pipeline halted on %s", res.Phase))
	default:
		return fmt.Errorf("unexpected driver result %q", res.Code)
	}
}
