package extract

import (
	"regexp"

	"github.com/argus-watch/argus/internal/transcript"
)

// Prompt-overflow conditions the user can actually act on (compact or
// restart the session). Matched only in system entries: a user merely
// discussing an error must not trip this.
var systemErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)prompt is too long`),
	regexp.MustCompile(`(?i)context.*(too long|exceeded|overflow)`),
	regexp.MustCompile(`(?i)maximum.*tokens?.*(exceeded|reached)`),
}

// SystemError reports a user-actionable error from the system stream,
// with a message fit for display.
type SystemError struct {
	Message string
	Line    int
}

// DetectSystemError scans backward through system entries for a
// prompt-overflow condition.
func DetectSystemError(entries []transcript.Entry) (SystemError, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind != transcript.KindSystem {
			continue
		}
		if matchesAny(systemErrorPatterns, e.Text) {
			return SystemError{
				Message: "Context limit reached: compact or start a new session",
				Line:    e.Line,
			}, true
		}
	}
	return SystemError{}, false
}
