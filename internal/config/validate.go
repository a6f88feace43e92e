package config

import (
	"errors"
	"fmt"
	"strings"

	"loom/internal/phase"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.RetryThreshold < 1 {
		return errors.New("pipeline.retry_threshold must be at least 1")
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if c.Executor.TimeoutSeconds < 0 {
		return errors.New("executor.timeout_seconds must not be negative")
	}
	for name := range c.Executor.Commands {
		if _, ok := phase.Parse(name); !ok {
			return fmt.Errorf("executor.commands has unknown phase %q", name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
