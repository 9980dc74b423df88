package masking

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue is the replacement for a masked structured field value.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

// structuredSecretFields are the field names treated as credential-shaped
// wherever they appear in a parsed JSON/YAML document, regardless of kind
// or resource type — task output has no single schema the way the
// teacher's Kubernetes manifests did, so this masker keys off field name
// alone rather than a document-kind check.
var structuredSecretFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_key":    true,
	"accesskey":     true,
	"private_key":   true,
	"privatekey":    true,
	"client_secret": true,
}

// StructuredSecretMasker parses JSON or YAML task output and masks the
// value of any object field whose name matches a known credential field,
// at any nesting depth, re-serializing in the original format. Adapted
// from the teacher's KubernetesSecretMasker (parse/walk/re-serialize,
// defensive on any parse error) but keyed on generic field names instead
// of Kubernetes Secret resource kinds, since task output carries
// arbitrary JSON/YAML blobs rather than Kubernetes manifests.
type StructuredSecretMasker struct{}

// Name returns the unique identifier for this masker.
func (m *StructuredSecretMasker) Name() string { return "structured_secret" }

// AppliesTo performs a lightweight check before the more expensive parse.
// Deliberately restricted to JSON-shaped input (starts with '{' or '['):
// arbitrary "key: value" log lines are also valid YAML documents, which
// would make this masker fire on the same free-form text the regex
// patterns already handle and pre-empt them before they run.
func (m *StructuredSecretMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	lower := strings.ToLower(data)
	for field := range structuredSecretFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// Mask parses data as JSON, then YAML, masking any matching field at any
// depth. Returns the original data unchanged if neither parses or nothing
// was masked.
func (m *StructuredSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var obj any
		if err := json.Unmarshal([]byte(data), &obj); err == nil {
			if maskAny(obj) {
				out, err := json.MarshalIndent(obj, "", "  ")
				if err == nil {
					result := string(out)
					if strings.HasSuffix(data, "\n") {
						result += "\n"
					}
					return result
				}
			}
			return data
		}
	}

	var doc any
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}
	if !maskAny(doc) {
		return data
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return data
	}
	result := strings.TrimRight(string(out), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskAny walks a decoded JSON/YAML value (maps, slices, scalars) masking
// any map field whose key matches structuredSecretFields. Returns true if
// anything was masked.
func maskAny(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return maskMap(val)
	case []any:
		masked := false
		for _, item := range val {
			if maskAny(item) {
				masked = true
			}
		}
		return masked
	default:
		return false
	}
}

func maskMap(m map[string]any) bool {
	masked := false
	for key, val := range m {
		if structuredSecretFields[strings.ToLower(key)] {
			if _, isScalar := val.(map[string]any); !isScalar {
				if _, isList := val.([]any); !isList {
					m[key] = MaskedSecretValue
					masked = true
					continue
				}
			}
		}
		if maskAny(val) {
			masked = true
		}
	}
	return masked
}
