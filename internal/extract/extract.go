// Package extract contains the semantic extractors: pure functions over
// a parsed transcript tail that derive what an agent is doing, whether it
// is waiting on the user, and other user-actionable conditions. None of
// them touch the filesystem or mutate state; the reconciler applies their
// results to the store.
package extract

import (
	"strings"

	"github.com/argus-watch/argus/internal/transcript"
)

// Window sizes for backward scans. Extractors run on every poll tick, so
// they only look at a bounded tail of the conversation.
const (
	activityWindow  = 30
	rateLimitWindow = 15
	serverWindow    = 30
)

// truncate cuts s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// lastLine returns the last non-empty line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// tail returns the last n entries of the stream.
func tail(entries []transcript.Entry, n int) []transcript.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// stringField reads a string out of a tool input map, "" when absent or
// not a string.
func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}

// boolField reads a bool out of a tool input map.
func boolField(input map[string]any, key string) bool {
	if input == nil {
		return false
	}
	b, _ := input[key].(bool)
	return b
}

// listField reads a []any out of a tool input map.
func listField(input map[string]any, key string) []any {
	if input == nil {
		return nil
	}
	l, _ := input[key].([]any)
	return l
}

// firstQuestion pulls the first question text out of an AskUserQuestion
// input ({"questions":[{"question":"..."}]}).
func firstQuestion(input map[string]any) string {
	for _, item := range listField(input, "questions") {
		if m, ok := item.(map[string]any); ok {
			if q, _ := m["question"].(string); q != "" {
				return q
			}
		}
	}
	return ""
}
