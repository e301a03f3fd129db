package extract

import "github.com/argus-watch/argus/internal/transcript"

// TodoItem is one entry of the agent's todo list.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"` // pending | in_progress | completed
	ActiveForm string `json:"activeForm,omitempty"`
}

// TodoCounts summarizes a todo list by status.
type TodoCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// Todos is the agent's current todo list with per-status counts.
type Todos struct {
	Items  []TodoItem `json:"items"`
	Counts TodoCounts `json:"counts"`
	Line   int        `json:"-"`
}

// LatestTodos returns the todo list from the most recent TodoWrite call.
// Each TodoWrite is a full snapshot, not a delta, so the newest one
// completely supersedes earlier lists.
func LatestTodos(entries []transcript.Entry) (Todos, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind != transcript.KindAssistant {
			continue
		}
		uses := e.ToolUses()
		for j := len(uses) - 1; j >= 0; j-- {
			if uses[j].Tool != "TodoWrite" {
				continue
			}
			return todosFromInput(uses[j].Input, e.Line), true
		}
	}
	return Todos{}, false
}

func todosFromInput(input map[string]any, line int) Todos {
	todos := Todos{Line: line}
	for _, raw := range listField(input, "todos") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := TodoItem{
			Content:    stringField(m, "content"),
			Status:     stringField(m, "status"),
			ActiveForm: stringField(m, "activeForm"),
		}
		todos.Items = append(todos.Items, item)
		switch item.Status {
		case "pending":
			todos.Counts.Pending++
		case "in_progress":
			todos.Counts.InProgress++
		case "completed":
			todos.Counts.Completed++
		}
	}
	return todos
}
