package config

const (
	defaultConfigPath                = "~/.config/storyforge/config.toml"
	projectConfigName                = "storyforge.toml"
	defaultDataDir                   = "~/.local/share/storyforge"
	defaultDatabase                  = "storyforge.db"
	defaultFanOut                    = 3
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultWorkflowPollInterval      = 5
	defaultWorkflowErrorRetry        = 10
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowLeaseSeconds      = 120
	defaultWorkflowWorkersPerStage   = 1
	defaultStageTimeoutSeconds       = 600
	defaultNotificationTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			Database: defaultDatabase,
		},
		Pipeline: Pipeline{
			FanOut: defaultFanOut,
		},
		Workflow: Workflow{
			PollInterval:       defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			LeaseSeconds:       defaultWorkflowLeaseSeconds,
			WorkersPerStage:    defaultWorkflowWorkersPerStage,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			StageOverrides: map[string]string{},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationTimeout,
		},
		Stages: map[string]StageCommand{},
	}
}
