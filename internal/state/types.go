// Package state holds the canonical in-memory graph of projects and
// agents. All mutation goes through named transitions that report whether
// the observable snapshot changed; the reconciler is the sole writer.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// ProjectStatus is the derived status of a project, a pure function of
// its agents' statuses and their freshness.
type ProjectStatus string

const (
	ProjectIdle          ProjectStatus = "idle"
	ProjectWorking       ProjectStatus = "working"
	ProjectBlocked       ProjectStatus = "blocked"
	ProjectRateLimited   ProjectStatus = "rate_limited"
	ProjectServerRunning ProjectStatus = "server_running"
)

// AgentStatus is the semantic state of a single agent.
type AgentStatus string

const (
	AgentWorking       AgentStatus = "working"
	AgentBlocked       AgentStatus = "blocked"
	AgentRateLimited   AgentStatus = "rate_limited"
	AgentServerRunning AgentStatus = "server_running"
	AgentComplete      AgentStatus = "complete"
	AgentError         AgentStatus = "error"
)

// AgentType distinguishes the main session from spawned helpers.
type AgentType string

const (
	AgentMain       AgentType = "main"
	AgentSubagent   AgentType = "subagent"
	AgentBackground AgentType = "background"
)

// Modes carries the boolean session modes plus ralph iteration counters.
type Modes struct {
	Ralph              bool `json:"ralph,omitempty"`
	Ultrawork          bool `json:"ultrawork,omitempty"`
	Planning           bool `json:"planning,omitempty"`
	RalphIteration     int  `json:"ralphIteration,omitempty"`
	RalphMaxIterations int  `json:"ralphMaxIterations,omitempty"`
}

// Zero reports whether no mode is set.
func (m Modes) Zero() bool {
	return m == Modes{}
}

// TodoItem is one entry of an agent's todo list.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// TodoCounts summarizes a todo list by status.
type TodoCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// TodoList is an agent's current todo snapshot.
type TodoList struct {
	Items  []TodoItem `json:"items"`
	Counts TodoCounts `json:"counts"`
}

func (t *TodoList) equal(other *TodoList) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Counts != other.Counts || len(t.Items) != len(other.Items) {
		return false
	}
	for i := range t.Items {
		if t.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}

func (t *TodoList) clone() *TodoList {
	if t == nil {
		return nil
	}
	c := &TodoList{Counts: t.Counts}
	if len(t.Items) > 0 {
		c.Items = make([]TodoItem, len(t.Items))
		copy(c.Items, t.Items)
	}
	return c
}

// Agent is one participant within a project.
type Agent struct {
	ID               string
	Type             AgentType
	ParentID         string // set iff Type != AgentMain
	Name             string
	Task             string // immutable once set
	CurrentActivity  string
	Question         string // set iff Status == AgentBlocked
	DelegatingTo     string
	Status           AgentStatus
	Modes            Modes
	Todos            *TodoList
	SpawnedAt        time.Time
	LastActivityAt   time.Time
	TranscriptPath   string
	TranscriptLine   int
	RateLimitResetAt time.Time
	ServerPort       int
	ProcessBusy      bool
}

// Terminal reports whether the agent has reached a final state.
func (a *Agent) Terminal() bool {
	return a.Status == AgentComplete
}

// Project is one supervised working directory with its agents.
type Project struct {
	ID              string
	Path            string
	Name            string
	Status          ProjectStatus
	LastActivityAt  time.Time
	BlockedSince    time.Time // non-zero iff Status == ProjectBlocked
	LastUserMessage string
	Agents          map[string]*Agent
}

// mainAgent returns the project's main agent, or nil.
func (p *Project) mainAgent() *Agent {
	for _, a := range p.Agents {
		if a.Type == AgentMain {
			return a
		}
	}
	return nil
}

// CompletedWorkItem records a finished subagent or background task.
type CompletedWorkItem struct {
	ID          string `json:"id"`
	AgentName   string `json:"agentName"`
	Task        string `json:"task"`
	CompletedAt int64  `json:"completedAt"`
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
}

// NormalizePath canonicalizes a project path: forward slashes,
// lower-cased, no trailing slash.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.ToLower(p)
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// ProjectID derives the stable 12-hex-digit id of a project path.
func ProjectID(path string) string {
	sum := sha256.Sum256([]byte(NormalizePath(path)))
	return hex.EncodeToString(sum[:])[:12]
}

// DisplayName is the final segment of a project path.
func DisplayName(path string) string {
	name := filepath.Base(strings.TrimSuffix(strings.ReplaceAll(path, "\\", "/"), "/"))
	if name == "." || name == "/" || name == "" {
		return "unknown"
	}
	return name
}

const snippetLen = 100

// Snippet truncates free text to the length stored in state.
func Snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetLen {
		return s
	}
	return string(runes[:snippetLen]) + "..."
}
