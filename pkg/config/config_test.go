package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigConfigDir(t *testing.T) {
	cfg := &Config{configDir: "/etc/broker"}
	assert.Equal(t, "/etc/broker", cfg.ConfigDir())
}

func TestConfigOrchestratorConfigProjection(t *testing.T) {
	cfg := &Config{
		Slack:               SlackConfig{Enabled: true},
		ResponseDeadlineMS:  25_000,
		Backend:             BackendConfig{TimeoutMS: 600_000},
		OrphanGraceMS:       30_000,
		OrphanSweepInterval: time.Minute,
	}

	oc := cfg.OrchestratorConfig()
	assert.True(t, oc.RoomsEnabled)
	assert.Equal(t, 25*time.Second, oc.ResponseDeadline)
	assert.Equal(t, 10*time.Minute, oc.ExecutionTimeout)
	assert.Equal(t, 30*time.Second, oc.OrphanGrace)
	assert.Equal(t, time.Minute, oc.OrphanSweepInterval)
}
