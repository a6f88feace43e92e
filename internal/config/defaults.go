package config

const (
	defaultWorkspaceDir   = "~/loom/workspace"
	defaultDataDir        = "~/.local/share/loom"
	defaultLogDir         = "~/.local/share/loom/logs"
	defaultRetryThreshold = 2
	defaultOutcomeFile    = "outcome.json"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
		},
		Pipeline: Pipeline{
			RetryThreshold:       defaultRetryThreshold,
			ConfirmBetweenPhases: true,
		},
		Executor: Executor{
			OutcomeFile: defaultOutcomeFile,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
