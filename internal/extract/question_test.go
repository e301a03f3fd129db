package extract

import (
	"testing"

	"github.com/argus-watch/argus/internal/transcript"
)

func TestPendingQuestionAskUser(t *testing.T) {
	entries := []transcript.Entry{
		user("refactor the pipeline"),
		{Kind: transcript.KindAssistant, Line: 7, Blocks: []transcript.Block{
			toolUse("AskUserQuestion", map[string]any{"questions": []any{
				map[string]any{"question": "Refactor or add voice first?"},
			}}),
		}},
	}
	q, ok := PendingQuestion(entries)
	if !ok {
		t.Fatal("PendingQuestion() found nothing")
	}
	if q.Text != "Refactor or add voice first?" {
		t.Errorf("question = %q", q.Text)
	}
	if q.Line != 7 {
		t.Errorf("question line = %d, want 7", q.Line)
	}
}

func TestPendingQuestionVariants(t *testing.T) {
	tests := []struct {
		name string
		use  transcript.Block
		want string
	}{
		{
			name: "ask without question text",
			use:  toolUse("AskUserQuestion", nil),
			want: "Waiting for your response...",
		},
		{
			name: "exit plan mode",
			use:  toolUse("ExitPlanMode", map[string]any{"plan": "..."}),
			want: "Accept this plan?",
		},
		{
			name: "enter plan mode",
			use:  toolUse("EnterPlanMode", nil),
			want: "Enter plan mode?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, ok := PendingQuestion([]transcript.Entry{assistant(tt.use)})
			if !ok {
				t.Fatal("PendingQuestion() found nothing")
			}
			if q.Text != tt.want {
				t.Errorf("question = %q, want %q", q.Text, tt.want)
			}
		})
	}
}

func TestPendingQuestionClearedByUserReply(t *testing.T) {
	entries := []transcript.Entry{
		assistant(toolUse("AskUserQuestion", map[string]any{"questions": []any{
			map[string]any{"question": "which one?"},
		}})),
		user("refactor first"),
	}
	if _, ok := PendingQuestion(entries); ok {
		t.Error("PendingQuestion() still pending after user reply")
	}
}

func TestPendingQuestionIgnoresInterveningSystemEntries(t *testing.T) {
	entries := []transcript.Entry{
		assistant(toolUse("ExitPlanMode", nil)),
		system("tool result noise"),
	}
	q, ok := PendingQuestion(entries)
	if !ok {
		t.Fatal("PendingQuestion() missed question behind system entries")
	}
	if q.Text != "Accept this plan?" {
		t.Errorf("question = %q", q.Text)
	}
}

func TestPendingQuestionPlainAssistantMessage(t *testing.T) {
	entries := []transcript.Entry{
		user("go"),
		assistant(textBlock("working on it")),
	}
	if _, ok := PendingQuestion(entries); ok {
		t.Error("PendingQuestion() reported a question for a plain assistant message")
	}
}

func TestPlanMode(t *testing.T) {
	tests := []struct {
		name    string
		entries []transcript.Entry
		want    bool
	}{
		{
			name:    "never entered",
			entries: []transcript.Entry{user("x"), assistant(textBlock("y"))},
			want:    false,
		},
		{
			name:    "entered",
			entries: []transcript.Entry{assistant(toolUse("EnterPlanMode", nil))},
			want:    true,
		},
		{
			name: "entered then exited",
			entries: []transcript.Entry{
				assistant(toolUse("EnterPlanMode", nil)),
				assistant(toolUse("ExitPlanMode", nil)),
			},
			want: false,
		},
		{
			name: "exited then re-entered",
			entries: []transcript.Entry{
				assistant(toolUse("ExitPlanMode", nil)),
				assistant(toolUse("EnterPlanMode", nil)),
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanMode(tt.entries); got != tt.want {
				t.Errorf("PlanMode() = %v, want %v", got, tt.want)
			}
		})
	}
}
