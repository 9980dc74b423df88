package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the literal, uncompiled form of a built-in pattern.
type builtinPattern struct {
	name, pattern, replacement, description string
}

// builtinPatternDefs are the secret-shaped substrings masked in task
// output by default. The broker has no per-MCP-server config registry to
// source patterns from, so a literal catalogue stands in for the
// teacher's config.GetBuiltinConfig().MaskingPatterns.
var builtinPatternDefs = []builtinPattern{
	{
		name:        "aws_access_key",
		pattern:     `AKIA[0-9A-Z]{16}`,
		replacement: "[MASKED_AWS_ACCESS_KEY]",
		description: "AWS access key id",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)bearer\s+[A-Za-z0-9\-_.=]+`,
		replacement: "Bearer [MASKED_TOKEN]",
		description: "HTTP bearer authorization token",
	},
	{
		name:        "generic_secret_assignment",
		pattern:     `(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*["']?[A-Za-z0-9\-_./+=]{8,}["']?`,
		replacement: "${1}=[MASKED]",
		description: "key=value or key: value assignment of a credential-shaped field",
	},
	{
		name:        "pem_private_key",
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[MASKED_PRIVATE_KEY]",
		description: "PEM-encoded private key block",
	},
	{
		name:        "slack_token",
		pattern:     `xox[baprs]-[0-9A-Za-z-]{10,}`,
		replacement: "[MASKED_SLACK_TOKEN]",
		description: "Slack API token",
	},
}

// compileBuiltinPatterns compiles every built-in regex pattern. Invalid
// patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for _, p := range builtinPatternDefs {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
}
