package extract

import (
	"path/filepath"

	"github.com/argus-watch/argus/internal/transcript"
)

// Activity describes what the agent appears to be doing right now, with
// the transcript line it was derived from.
type Activity struct {
	Text string
	Line int
}

// CurrentActivity scans backward over the tail of the entry stream and
// derives the agent's current activity. Within the most recent assistant
// message the priority is thinking > tool use > plain text; if that
// message yields nothing the scan continues to older assistant messages.
func CurrentActivity(entries []transcript.Entry) (Activity, bool) {
	window := tail(entries, activityWindow)
	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		if e.Kind != transcript.KindAssistant {
			continue
		}
		if act, ok := activityFromAssistant(e); ok {
			return act, true
		}
	}
	return Activity{}, false
}

func activityFromAssistant(e transcript.Entry) (Activity, bool) {
	// Thinking wins: the trailing line of the thought is the freshest
	// signal of what the agent is working through.
	for i := len(e.Blocks) - 1; i >= 0; i-- {
		b := e.Blocks[i]
		if b.Kind == transcript.BlockThinking {
			if line := lastLine(b.Text); line != "" {
				return Activity{Text: "💭 " + truncate(line, 120), Line: e.Line}, true
			}
		}
	}

	// Most recent tool use in the message, mapped to a human phrase.
	uses := e.ToolUses()
	for i := len(uses) - 1; i >= 0; i-- {
		if text, ok := describeToolUse(uses[i]); ok {
			return Activity{Text: text, Line: e.Line}, true
		}
	}

	// Fallback: the first non-empty line of the latest text block.
	for i := len(e.Blocks) - 1; i >= 0; i-- {
		b := e.Blocks[i]
		if b.Kind == transcript.BlockText {
			if line := firstLine(b.Text); line != "" {
				return Activity{Text: truncate(line, 100), Line: e.Line}, true
			}
		}
	}

	return Activity{}, false
}

// describeToolUse maps a tool invocation to a short activity phrase.
// Unknown tools are ignored so the caller can fall through.
func describeToolUse(b transcript.Block) (string, bool) {
	switch b.Tool {
	case "TodoWrite":
		for _, item := range listField(b.Input, "todos") {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if status, _ := m["status"].(string); status != "in_progress" {
				continue
			}
			if form, _ := m["activeForm"].(string); form != "" {
				return form, true
			}
			if content, _ := m["content"].(string); content != "" {
				return content, true
			}
		}
		return "", false

	case "Task":
		if desc := stringField(b.Input, "description"); desc != "" {
			return "Delegating: " + desc, true
		}
		return "Delegating work", true

	case "Edit", "Write":
		if path := stringField(b.Input, "file_path"); path != "" {
			return "Editing " + filepath.Base(path), true
		}
		return "", false

	case "Read":
		if path := stringField(b.Input, "file_path"); path != "" {
			return "Reading " + filepath.Base(path), true
		}
		return "", false

	case "Bash":
		if desc := stringField(b.Input, "description"); desc != "" {
			return desc, true
		}
		if cmd := stringField(b.Input, "command"); cmd != "" {
			return "Running: " + truncate(cmd, 40), true
		}
		return "", false

	case "Grep":
		if pattern := stringField(b.Input, "pattern"); pattern != "" {
			return `Searching for "` + pattern + `"`, true
		}
		return "Searching", true

	case "Glob":
		if pattern := stringField(b.Input, "pattern"); pattern != "" {
			return "Finding files: " + pattern, true
		}
		return "Finding files", true

	case "WebSearch":
		return "Searching the web", true

	case "WebFetch":
		return "Fetching a web page", true

	case "AskUserQuestion":
		if q := firstQuestion(b.Input); q != "" {
			return truncate(q, 100), true
		}
		return "Waiting for your response...", true
	}

	return "", false
}
