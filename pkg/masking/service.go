// Package masking redacts secrets a task runner's output may contain
// before that output reaches a caller-visible workspace document or chat
// room. Adapted from the teacher's MCP tool-result masking service: the
// same compiled-pattern catalogue, and the same fail-closed (runner
// output) vs fail-open (metadata) split, re-pointed at generic task
// output instead of per-MCP-server tool results.
package masking

import (
	"fmt"
	"log/slog"
)

// Service applies secret redaction to task output and metadata. Created
// once at broker startup (singleton); safe for concurrent use once
// constructed, since its pattern set is fixed after NewService returns.
type Service struct {
	patterns    []*CompiledPattern
	codeMaskers []Masker
}

// NewService creates a masking service with every built-in pattern
// compiled eagerly. Invalid patterns are logged and skipped.
func NewService() *Service {
	s := &Service{}
	s.compileBuiltinPatterns()
	s.registerMasker(&StructuredSecretMasker{})
	slog.Info("masking service initialized", "compiled_patterns", len(s.patterns), "code_maskers", len(s.codeMaskers))
	return s
}

// MaskOutput applies every registered masker to a task's aggregated
// output. On masking failure the content is replaced entirely with a
// redaction notice — fail-closed, since runner output is influenced by
// whatever the task executed and must never leak unmasked into a
// caller-visible workspace document or room.
func (s *Service) MaskOutput(content string) string {
	if content == "" {
		return content
	}
	masked, err := s.apply(content)
	if err != nil {
		slog.Error("masking failed, redacting content", "error", err)
		return "[REDACTED: data masking failure — task output could not be safely processed]"
	}
	return masked
}

// MaskMetadata applies the same maskers to non-output fields, such as a
// control request's reason or a caller-supplied task label. On failure
// the original value passes through unmasked — fail-open, since these
// fields are operator-supplied rather than runner-controlled and a
// masking bug should not silently drop data the caller already knows.
func (s *Service) MaskMetadata(value string) string {
	if value == "" {
		return value
	}
	masked, err := s.apply(value)
	if err != nil {
		slog.Error("metadata masking failed, passing through unmasked", "error", err)
		return value
	}
	return masked
}

// apply runs every code-based masker followed by every regex pattern, in
// that order: code maskers get first look at structurally-aware content,
// regex patterns are the general sweep over whatever remains.
func (s *Service) apply(content string) (masked string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying maskers: %v", r)
		}
	}()

	masked = content
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked, nil
}

// registerMasker registers a code-based masker, run before the regex
// pattern sweep in apply.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers = append(s.codeMaskers, m)
}
