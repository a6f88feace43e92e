package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"loom/internal/artifact"
	"loom/internal/config"
	"loom/internal/driver"
	"loom/internal/executor"
	"loom/internal/logging"
	"loom/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the state store for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

// withDriver wires the full control loop for the duration of fn.
func (c *commandContext) withDriver(fn func(*config.Config, *store.Store, *driver.Driver) error) error {
	return c.withStore(func(cfg *config.Config, st *store.Store) error {
		artifacts, err := artifact.NewStore(cfg.Paths.WorkspaceDir)
		if err != nil {
			return err
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		drv, err := driver.New(cfg, st, artifacts, executor.NewCommandExecutor(cfg), logger)
		if err != nil {
			return err
		}
		return fn(cfg, st, drv)
	})
}

// resolveProject picks the explicit project argument or falls back to the
// active pipeline.
func resolveProject(ctx context.Context, st *store.Store, arg string) (string, error) {
	if arg = strings.TrimSpace(arg); arg != "" {
		return arg, nil
	}
	projectID, err := st.ActiveProject(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", errors.New("no active pipeline; run `loom init` first")
	}
	return projectID, err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
