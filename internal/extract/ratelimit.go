package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/argus-watch/argus/internal/transcript"
)

// RateLimit describes a detected rate-limit condition and when it is
// expected to lift.
type RateLimit struct {
	Message string
	ResetAt time.Time
	Line    int
}

// The pattern tables are observable behavior, not implementation detail:
// changing them changes which messages flip an agent to rate_limited.
var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you'?ve hit your (usage |rate )?limit`),
	regexp.MustCompile(`(?i)rate limit(ed| exceeded)`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)quota exceeded`),
	regexp.MustCompile(`(?i)overloaded`),
	regexp.MustCompile(`\b429\b`),
}

var (
	resetInPattern    = regexp.MustCompile(`(?i)\bin (\d+) ?(min|sec|hour)[a-z]*\b`)
	resetAtPattern    = regexp.MustCompile(`(?i)\bat (\d{1,2}):(\d{2}) ?(am|pm)?`)
	resetsHourPattern = regexp.MustCompile(`(?i)\bresets? (\d{1,2}) ?(am|pm)\b`)
)

const defaultResetDelay = 5 * time.Minute

// DetectRateLimit scans the recent tail for rate-limit messages in system
// entries and assistant text blocks. When found, the reset time is parsed
// out of the message; unparseable phrasings fall back to now + 5 minutes.
func DetectRateLimit(entries []transcript.Entry, now time.Time) (RateLimit, bool) {
	window := tail(entries, rateLimitWindow)
	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		var texts []string
		switch e.Kind {
		case transcript.KindSystem:
			texts = []string{e.Text}
		case transcript.KindAssistant:
			for _, b := range e.Blocks {
				if b.Kind == transcript.BlockText {
					texts = append(texts, b.Text)
				}
			}
		default:
			continue
		}
		for _, text := range texts {
			if !matchesRateLimit(text) {
				continue
			}
			return RateLimit{
				Message: truncate(firstLine(text), 200),
				ResetAt: parseResetTime(text, now),
				Line:    e.Line,
			}, true
		}
	}
	return RateLimit{}, false
}

func matchesRateLimit(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range rateLimitPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// parseResetTime tries the reset phrasings in order and returns the first
// match. Times of day that already passed today roll over to tomorrow.
func parseResetTime(text string, now time.Time) time.Time {
	if m := resetInPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch strings.ToLower(m[2]) {
		case "sec":
			return now.Add(time.Duration(n) * time.Second)
		case "min":
			return now.Add(time.Duration(n) * time.Minute)
		case "hour":
			return now.Add(time.Duration(n) * time.Hour)
		}
	}

	if m := resetAtPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		hour = to24Hour(hour, m[3])
		return nextOccurrence(now, hour, minute)
	}

	if m := resetsHourPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		hour = to24Hour(hour, m[2])
		return nextOccurrence(now, hour, 0)
	}

	return now.Add(defaultResetDelay)
}

func to24Hour(hour int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

func nextOccurrence(now time.Time, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
