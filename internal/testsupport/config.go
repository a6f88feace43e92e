package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Pipeline.ConfirmBetweenPhases = false

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithRetryThreshold overrides the livelock threshold on the test config.
func WithRetryThreshold(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.RetryThreshold = n
	}
}

// WithPhaseCommand registers a shell command for one phase on the test
// config.
func WithPhaseCommand(phase, command string) ConfigOption {
	return func(cfg *config.Config) {
		if cfg.Executor.Commands == nil {
			cfg.Executor.Commands = make(map[string]string)
		}
		cfg.Executor.Commands[phase] = command
	}
}
