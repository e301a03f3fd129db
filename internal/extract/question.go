package extract

import "github.com/argus-watch/argus/internal/transcript"

// Question is a prompt the agent is blocked on, waiting for the user.
type Question struct {
	Text string
	Line int
}

// PendingQuestion reports whether the agent is waiting on the user. The
// scan walks backward: a user entry means the user already answered, so
// there is no pending question. Otherwise the most recent assistant
// message is inspected for a blocking tool call.
func PendingQuestion(entries []transcript.Entry) (Question, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind {
		case transcript.KindUser:
			return Question{}, false
		case transcript.KindAssistant:
			uses := e.ToolUses()
			for j := len(uses) - 1; j >= 0; j-- {
				switch uses[j].Tool {
				case "AskUserQuestion":
					text := firstQuestion(uses[j].Input)
					if text == "" {
						text = "Waiting for your response..."
					}
					return Question{Text: text, Line: e.Line}, true
				case "ExitPlanMode":
					return Question{Text: "Accept this plan?", Line: e.Line}, true
				case "EnterPlanMode":
					return Question{Text: "Enter plan mode?", Line: e.Line}, true
				}
			}
			// Only the last assistant message counts; an ordinary
			// message means the agent is not waiting on anyone.
			return Question{}, false
		}
	}
	return Question{}, false
}

// PlanMode reports whether the session is currently in plan mode: the
// most recent of EnterPlanMode / ExitPlanMode decides, and neither seen
// means false.
func PlanMode(entries []transcript.Entry) bool {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind != transcript.KindAssistant {
			continue
		}
		uses := e.ToolUses()
		for j := len(uses) - 1; j >= 0; j-- {
			switch uses[j].Tool {
			case "EnterPlanMode":
				return true
			case "ExitPlanMode":
				return false
			}
		}
	}
	return false
}
