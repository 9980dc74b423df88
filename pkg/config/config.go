// Package config loads, merges, and validates the broker's configuration:
// a single YAML file plus environment overrides, following
// pkg/config's loader.go/config.go/defaults.go/validator.go shape —
// generalized from the teacher's agent/chain/MCP-server registries down to
// the broker's own admission, execution-backend, workspace, and room
// settings.
package config

import (
	"time"

	"github.com/tarsybroker/broker/pkg/orchestrator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// ExecutionBackend selects which Adapter implementation handles task
// execution.
type ExecutionBackend string

const (
	BackendLocal  ExecutionBackend = "local"
	BackendRemote ExecutionBackend = "remote"
)

// BackendConfig controls the execution backend and its timeouts.
type BackendConfig struct {
	Execution ExecutionBackend
	TimeoutMS int64
	GraceMS   int64
}

// SlackConfig carries the Slack room backend's credentials.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string
	Channel  string
}

// Config is the broker's fully resolved, validated configuration.
type Config struct {
	configDir string

	Registry           registry.Config
	Workspace          workspace.Config
	Backend            BackendConfig
	Slack              SlackConfig
	ResponseDeadlineMS int64

	OrphanGraceMS       int64
	OrphanSweepInterval time.Duration
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// OrchestratorConfig projects the resolved config onto the shape
// pkg/orchestrator.New expects.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		RoomsEnabled:        c.Slack.Enabled,
		ResponseDeadline:    time.Duration(c.ResponseDeadlineMS) * time.Millisecond,
		ExecutionTimeout:    time.Duration(c.Backend.TimeoutMS) * time.Millisecond,
		OrphanGrace:         time.Duration(c.OrphanGraceMS) * time.Millisecond,
		OrphanSweepInterval: c.OrphanSweepInterval,
	}
}
