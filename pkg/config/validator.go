package config

import "fmt"

// Validator validates a resolved Config with clear, field-scoped error
// messages, following pkg/config's validator.go fail-fast shape.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, stopping at the first
// failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateRegistry(); err != nil {
		return fmt.Errorf("registry validation failed: %w", err)
	}
	if err := v.validateBackend(); err != nil {
		return fmt.Errorf("backend validation failed: %w", err)
	}
	if err := v.validateWorkspace(); err != nil {
		return fmt.Errorf("workspace validation failed: %w", err)
	}
	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}
	if err := v.validateResponseDeadline(); err != nil {
		return fmt.Errorf("response deadline validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateRegistry() error {
	r := v.cfg.Registry
	if r.MaxConcurrentTasks < 1 {
		return NewValidationError("registry", "max_concurrent_tasks",
			fmt.Errorf("must be at least 1, got %d", r.MaxConcurrentTasks))
	}
	if r.IdempotencyWindow <= 0 {
		return NewValidationError("registry", "idempotency_window",
			fmt.Errorf("must be positive, got %v", r.IdempotencyWindow))
	}
	return nil
}

func (v *Validator) validateBackend() error {
	b := v.cfg.Backend
	if b.Execution != BackendLocal && b.Execution != BackendRemote {
		return NewValidationError("backend", "execution_backend",
			fmt.Errorf("must be %q or %q, got %q", BackendLocal, BackendRemote, b.Execution))
	}
	if b.TimeoutMS <= 0 {
		return NewValidationError("backend", "execution_timeout_ms",
			fmt.Errorf("must be positive, got %d", b.TimeoutMS))
	}
	if b.GraceMS < 0 {
		return NewValidationError("backend", "execution_grace_ms",
			fmt.Errorf("must be non-negative, got %d", b.GraceMS))
	}
	if b.Execution == BackendLocal && b.GraceMS >= b.TimeoutMS {
		return NewValidationError("backend", "execution_grace_ms",
			fmt.Errorf("must be less than execution_timeout_ms (grace=%d timeout=%d)", b.GraceMS, b.TimeoutMS))
	}
	return nil
}

func (v *Validator) validateWorkspace() error {
	w := v.cfg.Workspace
	if w.MaxEvents < 1 {
		return NewValidationError("workspace", "workspace_max_events",
			fmt.Errorf("must be at least 1, got %d", w.MaxEvents))
	}
	if w.BlockLimit < 1 {
		return NewValidationError("workspace", "workspace_block_limit",
			fmt.Errorf("must be at least 1, got %d", w.BlockLimit))
	}
	return nil
}

func (v *Validator) validateSlack() error {
	s := v.cfg.Slack
	if !s.Enabled {
		return nil
	}
	if s.TokenEnv == "" {
		return NewValidationError("slack", "token_env",
			fmt.Errorf("required when rooms_enabled is true"))
	}
	if s.Channel == "" {
		return NewValidationError("slack", "channel",
			fmt.Errorf("required when rooms_enabled is true"))
	}
	return nil
}

func (v *Validator) validateResponseDeadline() error {
	if v.cfg.ResponseDeadlineMS <= 0 {
		return NewValidationError("response_deadline", "response_deadline_ms",
			fmt.Errorf("must be positive, got %d", v.cfg.ResponseDeadlineMS))
	}
	if v.cfg.ResponseDeadlineMS >= v.cfg.Backend.TimeoutMS {
		return NewValidationError("response_deadline", "response_deadline_ms",
			fmt.Errorf("should be less than execution_timeout_ms so sync callers actually see the background-continuation path (deadline=%d timeout=%d)",
				v.cfg.ResponseDeadlineMS, v.cfg.Backend.TimeoutMS))
	}
	return nil
}
