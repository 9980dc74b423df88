package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name:     "with field",
			err:      NewValidationError("backend", "execution_timeout_ms", baseErr),
			contains: []string{"backend", "execution_timeout_ms", "base error"},
		},
		{
			name:     "without field",
			err:      NewValidationError("slack", "", errors.New("channel required when rooms_enabled is true")),
			contains: []string{"slack", "channel required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	validationErr := NewValidationError("registry", "max_concurrent_tasks", baseErr)

	assert.Equal(t, baseErr, validationErr.Unwrap())
	assert.True(t, errors.Is(validationErr, baseErr))
}

func TestLoadErrorError(t *testing.T) {
	err := &LoadError{File: "broker.yaml", Err: errors.New("file not found")}
	errStr := err.Error()
	assert.Contains(t, errStr, "failed to load")
	assert.Contains(t, errStr, "broker.yaml")
	assert.Contains(t, errStr, "file not found")
}

func TestLoadErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	loadErr := &LoadError{File: "broker.yaml", Err: baseErr}

	assert.Equal(t, baseErr, loadErr.Unwrap())
	assert.True(t, errors.Is(loadErr, baseErr))
}
