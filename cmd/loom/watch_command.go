package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/phase"
	"loom/internal/store"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var projectFlag string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace for artifact changes",
		Long: "Watch the workspace directory and report writes to pipeline " +
			"artifacts as they land. Useful while an external collaborator is " +
			"working on a phase. Interrupt to stop.",
		Args: cobra.NoArgs,
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

				known := make(map[string]phase.Name)
				for _, spec := range phase.All() {
					for _, name := range spec.ProducedOutputs {
						known[name] = spec.Name
					}
				}

				watcher, err := fsnotify.NewWatcher()
				if err != nil {
					return fmt.Errorf("create watcher: %w", err)
				}
				defer watcher.Close()
				if err := watcher.Add(cfg.Paths.WorkspaceDir); err != nil {
					return fmt.Errorf("watch %s: %w", cfg.Paths.WorkspaceDir, err)
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Watching %s (project %s, current phase %s)\n",
					cfg.Paths.WorkspaceDir, state.ProjectID, phase.Label(state.CurrentPhase))

				for {
					select {
					case <-runCtx.Done():
						fmt.Fprintln(out, "Stopped")
						return nil
					case event, ok := <-watcher.Events:
						if !ok {
							return nil
						}
						if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
							continue
						}
						name := filepath.Base(event.Name)
						producer, tracked := known[name]
						if !tracked {
							continue
						}
						fmt.Fprintf(out, "%s updated (produced by %s)\n", name, phase.Label(producer))
					case err, ok := <-watcher.Errors:
						if !ok {
							return nil
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (defaults to the active pipeline)")
	return cmd
}
