package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR}} references in YAML content against the
// current environment. Deliberately template-based rather than shell-style
// ($VAR/${VAR}) expansion: masking patterns and regular expressions in
// broker config routinely contain literal dollar signs (end-of-line
// anchors, masked-secret placeholders), and those must never collide with
// variable expansion.
//
// A missing variable expands to the empty string. A malformed template —
// unclosed action, undefined function, invalid field access — is never
// partially expanded: ExpandEnv returns the original bytes unchanged on
// any parse or execution error, leaving the YAML parser to either accept
// the literal text or fail with its own, clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, environMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
