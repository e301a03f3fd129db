package extract

import "github.com/argus-watch/argus/internal/transcript"

const messageSnippetLen = 100

// InitialTask returns the first user message, truncated to 100 chars.
// This is the prompt that started the session.
func InitialTask(entries []transcript.Entry) (string, bool) {
	for _, e := range entries {
		if e.Kind == transcript.KindUser && e.Text != "" {
			return truncate(firstLine(e.Text), messageSnippetLen), true
		}
	}
	return "", false
}

// LastUserMessage returns the most recent user message, truncated to
// 100 chars.
func LastUserMessage(entries []transcript.Entry) (string, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind == transcript.KindUser && e.Text != "" {
			return truncate(firstLine(e.Text), messageSnippetLen), true
		}
	}
	return "", false
}
