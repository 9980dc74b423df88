package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load broker.yaml from configDir (if present)
//  2. Expand {{.VAR}} environment references
//  3. Merge built-in defaults with the user's values
//  4. Parse durations and resolve sub-package configs
//  5. Validate the result
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	yamlCfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg, err := resolve(configDir, yamlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"max_concurrent_tasks", cfg.Registry.MaxConcurrentTasks,
		"execution_backend", cfg.Backend.Execution,
		"rooms_enabled", cfg.Slack.Enabled)
	return cfg, nil
}

func load(configDir string) (brokerYAMLConfig, error) {
	userCfg := brokerYAMLConfig{}

	path := filepath.Join(configDir, "broker.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No user file: defaults alone are a valid configuration.
			return defaultBrokerYAMLConfig(), nil
		}
		return brokerYAMLConfig{}, NewLoadError(path, err)
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, &userCfg); err != nil {
		return brokerYAMLConfig{}, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}

	merged := defaultBrokerYAMLConfig()
	if err := mergo.Merge(&merged, &userCfg, mergo.WithOverride); err != nil {
		return brokerYAMLConfig{}, fmt.Errorf("failed to merge broker.yaml over defaults: %w", err)
	}
	return merged, nil
}

func resolve(configDir string, y brokerYAMLConfig) (*Config, error) {
	idempotencyWindow, err := time.ParseDuration(y.IdempotencyWindow)
	if err != nil {
		slog.Warn("invalid idempotency_window, using default",
			"value", y.IdempotencyWindow, "error", err)
		idempotencyWindow, _ = time.ParseDuration(defaultBrokerYAMLConfig().IdempotencyWindow)
	}

	orphanSweepInterval, err := time.ParseDuration(y.OrphanSweepInterval)
	if err != nil {
		slog.Warn("invalid orphan_sweep_interval, using default",
			"value", y.OrphanSweepInterval, "error", err)
		orphanSweepInterval, _ = time.ParseDuration(defaultBrokerYAMLConfig().OrphanSweepInterval)
	}

	return &Config{
		configDir: configDir,
		Registry: registry.Config{
			MaxConcurrentTasks: y.MaxConcurrentTasks,
			IdempotencyWindow:  idempotencyWindow,
			SweepInterval:      time.Hour,
		},
		Workspace: workspace.Config{
			MaxEvents:  y.WorkspaceMaxEvents,
			BlockLimit: y.WorkspaceBlockLimit,
			MaxRetries: 3,
		},
		Backend: BackendConfig{
			Execution: ExecutionBackend(y.ExecutionBackend),
			TimeoutMS: y.ExecutionTimeoutMS,
			GraceMS:   y.ExecutionGraceMS,
		},
		Slack: SlackConfig{
			Enabled:  y.RoomsEnabled,
			TokenEnv: y.Slack.TokenEnv,
			Channel:  y.Slack.Channel,
		},
		ResponseDeadlineMS:  y.ResponseDeadlineMS,
		OrphanGraceMS:       y.OrphanGraceMS,
		OrphanSweepInterval: orphanSweepInterval,
	}, nil
}
