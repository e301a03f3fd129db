package extract

import (
	"regexp"
	"strconv"

	"github.com/argus-watch/argus/internal/transcript"
)

// ServerRun describes a long-running dev server the agent started.
type ServerRun struct {
	Command string // the launching command, when detected via Bash
	Port    int    // 0 when no port could be extracted
	Line    int
}

// Commands that, run in the background, mean a server was started.
var serverCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bnpm run (dev|start|serve)\b`),
	regexp.MustCompile(`\bvite\b`),
	regexp.MustCompile(`\bnext\b`),
	regexp.MustCompile(`\bnode\b.*\bserver\b`),
	regexp.MustCompile(`\bpython3? -m (flask|uvicorn|http\.server)\b`),
	regexp.MustCompile(`\bcargo run\b`),
	regexp.MustCompile(`\bgo run\b.*\bserver\b`),
	regexp.MustCompile(`\bdocker(-compose)?\b.*\b(up|run)\b`),
}

// Output lines that mean a server is up, regardless of how it was started.
var serverOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)listening on\b`),
	regexp.MustCompile(`(?i)server (running|started|listening)`),
	regexp.MustCompile(`(?i)local:\s+https?://localhost`),
	regexp.MustCompile(`(?i)\bready in \d+ ?m?s\b`),
}

var portPattern = regexp.MustCompile(`:(\d{4,5})\b`)

// DetectServer scans the recent tail for a background Bash invocation of
// a known server-start command, or server-ready output in the system
// stream. Whichever is most recent wins.
func DetectServer(entries []transcript.Entry) (ServerRun, bool) {
	window := tail(entries, serverWindow)
	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		switch e.Kind {
		case transcript.KindAssistant:
			for _, use := range e.ToolUses() {
				if use.Tool != "Bash" || !boolField(use.Input, "run_in_background") {
					continue
				}
				cmd := stringField(use.Input, "command")
				if !matchesAny(serverCommandPatterns, cmd) {
					continue
				}
				return ServerRun{Command: cmd, Port: extractPort(cmd), Line: e.Line}, true
			}
		case transcript.KindSystem:
			if matchesAny(serverOutputPatterns, e.Text) {
				return ServerRun{Port: extractPort(e.Text), Line: e.Line}, true
			}
		}
	}
	return ServerRun{}, false
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	if text == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func extractPort(text string) int {
	m := portPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port > 65535 {
		return 0
	}
	return port
}
