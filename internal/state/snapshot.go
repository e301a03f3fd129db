package state

import "time"

// AgentView is the wire form of an agent.
type AgentView struct {
	ID               string      `json:"id"`
	Type             AgentType   `json:"type"`
	ParentID         string      `json:"parentId,omitempty"`
	Name             string      `json:"name,omitempty"`
	Task             string      `json:"task,omitempty"`
	CurrentActivity  string      `json:"currentActivity,omitempty"`
	Question         string      `json:"question,omitempty"`
	DelegatingTo     string      `json:"delegatingTo,omitempty"`
	Status           AgentStatus `json:"status"`
	Modes            *Modes      `json:"modes,omitempty"`
	Todos            *TodoList   `json:"todos,omitempty"`
	SpawnedAt        int64       `json:"spawnedAt"`
	LastActivityAt   int64       `json:"lastActivityAt"`
	WorkingTime      int64       `json:"workingTime"`
	TranscriptPath   string      `json:"transcriptPath,omitempty"`
	TranscriptLine   int         `json:"transcriptLine,omitempty"`
	RateLimitResetAt int64       `json:"rateLimitResetAt,omitempty"`
	ServerPort       int         `json:"serverPort,omitempty"`
	ProcessBusy      bool        `json:"processBusy,omitempty"`
}

// ProjectView is the wire form of a project.
type ProjectView struct {
	ID                string               `json:"id"`
	Path              string               `json:"path"`
	Name              string               `json:"name"`
	Status            ProjectStatus        `json:"status"`
	LastActivityAt    int64                `json:"lastActivityAt"`
	BlockedSince      int64                `json:"blockedSince,omitempty"`
	LastUserMessage   string               `json:"lastUserMessage,omitempty"`
	BlockedAgentCount int                  `json:"blockedAgentCount"`
	WorkingAgentCount int                  `json:"workingAgentCount"`
	Agents            map[string]AgentView `json:"agents"`
}

// Snapshot is one self-contained view of everything the store knows.
type Snapshot struct {
	Projects      map[string]ProjectView `json:"projects"`
	CompletedWork []CompletedWorkItem    `json:"completedWork"`
	LastUpdated   int64                  `json:"lastUpdated"`
}

// Snapshot builds a deep copy of the current state, keyed by project id
// and agent id as on the wire.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	snap := Snapshot{
		Projects:      make(map[string]ProjectView, len(s.projects)),
		CompletedWork: make([]CompletedWorkItem, len(s.completed)),
		LastUpdated:   now.UnixMilli(),
	}
	copy(snap.CompletedWork, s.completed)

	for _, p := range s.projects {
		pv := ProjectView{
			ID:              p.ID,
			Path:            p.Path,
			Name:            p.Name,
			Status:          p.Status,
			LastActivityAt:  p.LastActivityAt.UnixMilli(),
			BlockedSince:    millis(p.BlockedSince),
			LastUserMessage: p.LastUserMessage,
			Agents:          make(map[string]AgentView, len(p.Agents)),
		}
		for id, a := range p.Agents {
			switch a.Status {
			case AgentBlocked:
				pv.BlockedAgentCount++
			case AgentWorking:
				pv.WorkingAgentCount++
			}
			pv.Agents[id] = agentView(a, now)
		}
		snap.Projects[p.ID] = pv
	}
	return snap
}

func agentView(a *Agent, now time.Time) AgentView {
	v := AgentView{
		ID:               a.ID,
		Type:             a.Type,
		ParentID:         a.ParentID,
		Name:             a.Name,
		Task:             a.Task,
		CurrentActivity:  a.CurrentActivity,
		Question:         a.Question,
		DelegatingTo:     a.DelegatingTo,
		Status:           a.Status,
		Todos:            a.Todos.clone(),
		SpawnedAt:        a.SpawnedAt.UnixMilli(),
		LastActivityAt:   a.LastActivityAt.UnixMilli(),
		TranscriptPath:   a.TranscriptPath,
		TranscriptLine:   a.TranscriptLine,
		RateLimitResetAt: millis(a.RateLimitResetAt),
		ServerPort:       a.ServerPort,
		ProcessBusy:      a.ProcessBusy,
	}
	if a.Terminal() {
		v.WorkingTime = a.LastActivityAt.Sub(a.SpawnedAt).Milliseconds()
	} else {
		v.WorkingTime = now.Sub(a.SpawnedAt).Milliseconds()
	}
	if !a.Modes.Zero() {
		m := a.Modes
		v.Modes = &m
	}
	return v
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
