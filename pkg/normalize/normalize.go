// Package normalize implements the Event Normalizer: it maps
// the heterogeneous raw events either execution backend emits onto the
// broker's closed internal taxonomy, with particular care paid to
// recognizing task completion across many backend-specific synonyms.
//
// Grounded on pkg/events/payloads.go's typed-event-shape documentation
// style; the session-id discard logic is grounded on pkg/mcp/client.go's
// per-session event correlation.
package normalize

import (
	"strings"

	"github.com/tarsybroker/broker/pkg/task"
)

// exactCompletionTypes are raw type strings classified as complete
// outright, case-insensitively.
var exactCompletionTypes = map[string]bool{
	"session.idle": true,
	"finish":       true,
	"finish-step":  true,
	"done":         true,
	"complete":     true,
}

// completionSuffixes are raw type suffixes (case-insensitive) that mark
// completion regardless of what precedes them.
var completionSuffixes = []string{
	":finish", ".finish", "_finish",
	":complete", ".complete", "_complete",
}

// completionSubstrings mark completion when contained anywhere in the raw
// type, each paired with a negating substring that must NOT also be
// present.
var completionSubstrings = []struct {
	has, not string
}{
	{"session.complete", ""},
	{"session.finished", ""},
	{"complete", "incomplete"},
	{"finished", "unfinished"},
	{"success", "unsuccess"},
}

// statusCompletionValues are status-bearing field values that mark
// completion.
var statusCompletionValues = map[string]bool{
	"complete":  true,
	"completed": true,
	"finished":  true,
	"success":   true,
	"succeeded": true,
	"done":      true,
}

// statusFailureValues are status-bearing field values that must propagate
// the original raw type rather than being mislabeled as completion.
var statusFailureValues = map[string]bool{
	"timeout":   true,
	"cancelled": true,
	"failed":    true,
}

// statusFields are the sub-field names inspected for a status value, at
// the top level of Properties.
var statusFields = []string{"status", "state", "phase", "result"}

// sessionIDFields lists every place a raw event may carry a session
// correlation id: the event root, and the properties.info / properties.part
// sub-objects.
func eventSessionID(raw task.RawEvent) (string, bool) {
	if raw.SessionID != "" {
		return raw.SessionID, true
	}
	if v, ok := stringProp(raw.Properties, "session_id"); ok {
		return v, true
	}
	if sub, ok := subObject(raw.Properties, "info"); ok {
		if v, ok := stringProp(sub, "session_id"); ok {
			return v, true
		}
	}
	if sub, ok := subObject(raw.Properties, "part"); ok {
		if v, ok := stringProp(sub, "session_id"); ok {
			return v, true
		}
	}
	return "", false
}

func stringProp(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func subObject(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	sub, ok := v.(map[string]any)
	return sub, ok
}

// Belongs reports whether raw is part of the session being tracked for
// taskSessionID. Events lacking any recognizable session id are treated as
// belonging (fail open), matching the orchestrator's single-session-per-task
// model where most backends never echo a session id at all.
func Belongs(raw task.RawEvent, taskSessionID string) bool {
	if taskSessionID == "" {
		return true
	}
	sid, ok := eventSessionID(raw)
	if !ok {
		return true
	}
	return sid == taskSessionID
}

// statusValue returns the lowercased value of the first present
// status-bearing field, inspected in the order status, state, phase,
// result.
func statusValue(props map[string]any) (string, bool) {
	for _, field := range statusFields {
		if v, ok := stringProp(props, field); ok && v != "" {
			return strings.ToLower(v), true
		}
	}
	return "", false
}

// isCompletion implements the completion-detection policy in full: exact
// type matches, prefix/suffix forms, negated substring pairs, and
// status-bearing-field values all funnel through here. It is the single
// most invariant-heavy function in the broker.
func isCompletion(rawType string, props map[string]any) (complete bool, failureRawType string) {
	lower := strings.ToLower(rawType)

	if exactCompletionTypes[lower] {
		complete = true
	}
	if strings.HasPrefix(lower, "finish:") || strings.HasPrefix(lower, "finish_") {
		complete = true
	}
	for _, suffix := range completionSuffixes {
		if strings.HasSuffix(lower, suffix) {
			complete = true
		}
	}
	for _, pair := range completionSubstrings {
		if !strings.Contains(lower, pair.has) {
			continue
		}
		if pair.not != "" && strings.Contains(lower, pair.not) {
			continue
		}
		complete = true
	}

	if status, ok := statusValue(props); ok {
		if statusFailureValues[status] {
			// A failure status always wins: surface the original raw type
			// so callers see the failure rather than a completion label.
			return false, rawType
		}
		if statusCompletionValues[status] {
			complete = true
		}
	}

	return complete, ""
}

// Normalize maps a raw backend event onto the internal taxonomy. It does
// not filter by session; callers should check Belongs first.
func Normalize(raw task.RawEvent) task.Event {
	ev := task.Event{
		Type:    classify(raw),
		Data:    raw.Properties,
		RawType: raw.Type,
	}
	return ev
}

func classify(raw task.RawEvent) task.EventType {
	complete, failureRaw := isCompletion(raw.Type, raw.Properties)
	if failureRaw != "" {
		return classifyFailureStatus(raw)
	}
	if complete {
		return task.EventComplete
	}
	return classifyNonCompletion(raw)
}

// classifyFailureStatus maps the three recognized failure statuses
// directly, falling back to the general classifier only when the status
// value itself is absent by the time this is called (defensive; isCompletion
// only routes here when a failure status was found).
func classifyFailureStatus(raw task.RawEvent) task.EventType {
	status, _ := statusValue(raw.Properties)
	switch status {
	case "cancelled":
		return task.EventAbort
	case "timeout", "failed":
		return task.EventError
	default:
		return classifyNonCompletion(raw)
	}
}

// classifyNonCompletion assigns one of the remaining taxonomy members by
// simple, case-insensitive raw-type matching.
func classifyNonCompletion(raw task.RawEvent) task.EventType {
	lower := strings.ToLower(raw.Type)

	switch {
	case contains(lower, "abort", "cancel", "interrupt"):
		return task.EventAbort
	case contains(lower, "error", "exception", "fail"):
		return task.EventError
	case contains(lower, "tool_call", "tool-call", "tool.call", "function_call"):
		return task.EventToolCall
	case contains(lower, "file_change", "file-change", "file.change", "file_edit", "write_file"):
		return task.EventFileChange
	case contains(lower, "start", "session.start", "begin"):
		return task.EventStart
	case contains(lower, "output", "message", "chunk", "delta", "log"):
		return task.EventOutput
	default:
		return task.EventUnknown
	}
}

func contains(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
