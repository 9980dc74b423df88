package config

// brokerYAMLConfig is the on-disk shape of broker.yaml. Every field is a
// scalar with a sensible built-in default rather than a pointer, following
// pkg/config's own queue-config merge pattern: mergo.WithOverride only
// replaces a default when the user's value is non-zero, so an explicit
// zero/false in broker.yaml cannot be distinguished from "unset" — the same
// tradeoff the teacher accepts for QueueConfig.
type brokerYAMLConfig struct {
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	IdempotencyWindow  string `yaml:"idempotency_window"`

	ExecutionBackend   string `yaml:"execution_backend"`
	ExecutionTimeoutMS int64  `yaml:"execution_timeout_ms"`
	ExecutionGraceMS   int64  `yaml:"execution_grace_ms"`

	WorkspaceBlockLimit int `yaml:"workspace_block_limit"`
	WorkspaceMaxEvents  int `yaml:"workspace_max_events"`

	RoomsEnabled bool             `yaml:"rooms_enabled"`
	Slack        slackYAMLConfig  `yaml:"slack"`

	ResponseDeadlineMS int64 `yaml:"response_deadline_ms"`

	OrphanGraceMS       int64  `yaml:"orphan_grace_ms"`
	OrphanSweepInterval string `yaml:"orphan_sweep_interval"`
}

type slackYAMLConfig struct {
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// defaultBrokerYAMLConfig returns the built-in defaults, merged over by
// whatever the user's broker.yaml sets.
func defaultBrokerYAMLConfig() brokerYAMLConfig {
	return brokerYAMLConfig{
		MaxConcurrentTasks:  3,
		IdempotencyWindow:   "24h",
		ExecutionBackend:    string(BackendLocal),
		ExecutionTimeoutMS:  600_000,
		ExecutionGraceMS:    5_000,
		WorkspaceBlockLimit: 50_000,
		WorkspaceMaxEvents:  50,
		RoomsEnabled:        false,
		Slack: slackYAMLConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		ResponseDeadlineMS:  25_000,
		OrphanGraceMS:       30_000,
		OrphanSweepInterval: "1m",
	}
}
