// Package event defines the hook envelope posted by agent lifecycle
// hooks and the validation applied before it reaches the reconciler.
package event

import (
	"fmt"
	"time"
)

// Type enumerates the hook event kinds.
type Type string

const (
	SessionStart  Type = "session_start"
	SessionEnd    Type = "session_end"
	AgentSpawn    Type = "agent_spawn"
	AgentBlocked  Type = "agent_blocked"
	AgentUnblock  Type = "agent_unblocked"
	AgentComplete Type = "agent_complete"
	Activity      Type = "activity"
)

var known = map[Type]bool{
	SessionStart:  true,
	SessionEnd:    true,
	AgentSpawn:    true,
	AgentBlocked:  true,
	AgentUnblock:  true,
	AgentComplete: true,
	Activity:      true,
}

// Metadata carries the optional extras a hook may attach.
type Metadata struct {
	DelegatingTo           string `json:"delegatingTo,omitempty"`
	AgentType              string `json:"agentType,omitempty"` // "subagent" or "background"
	ShellID                string `json:"shellId,omitempty"`
	BackgroundTaskComplete string `json:"backgroundTaskComplete,omitempty"` // shell id of the finished task
	RalphIteration         int    `json:"ralphIteration,omitempty"`
	RalphMaxIterations     int    `json:"ralphMaxIterations,omitempty"`
	UltraworkActive        bool   `json:"ultraworkActive,omitempty"`
	Source                 string `json:"source,omitempty"` // "claude" or "openclaw"
}

// Envelope is one hook event as posted to the ingest endpoint.
type Envelope struct {
	Type        Type      `json:"type"`
	Timestamp   int64     `json:"timestamp,omitempty"` // ms since epoch
	SessionID   string    `json:"sessionId"`
	ProjectPath string    `json:"projectPath"`
	ProjectName string    `json:"projectName,omitempty"`
	AgentID     string    `json:"agentId,omitempty"`
	AgentName   string    `json:"agentName,omitempty"`
	Task        string    `json:"task,omitempty"`
	Question    string    `json:"question,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// Validate checks the envelope for the fields every event must carry.
func (e *Envelope) Validate() error {
	if !known[e.Type] {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%s event missing sessionId", e.Type)
	}
	if e.ProjectPath == "" {
		return fmt.Errorf("%s event missing projectPath", e.Type)
	}
	return nil
}

// Time returns the event timestamp, defaulting to now when the hook
// did not set one.
func (e *Envelope) Time() time.Time {
	if e.Timestamp <= 0 {
		return time.Now()
	}
	return time.UnixMilli(e.Timestamp)
}

// Meta returns the metadata, never nil.
func (e *Envelope) Meta() Metadata {
	if e.Metadata == nil {
		return Metadata{}
	}
	return *e.Metadata
}
