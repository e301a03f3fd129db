package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options tunes the store's time-based behavior. Zero values fall back
// to the defaults.
type Options struct {
	// IdleTimeout bounds how long a working agent counts as actively
	// working when deriving project status.
	IdleTimeout time.Duration
	// StaleProjectTTL removes idle projects with no activity.
	StaleProjectTTL time.Duration
	// StaleBlockedTTL removes blocked main agents whose transcript has
	// gone silent, typically because the session was abandoned.
	StaleBlockedTTL time.Duration
	// CompletedCapacity caps the completed-work feed.
	CompletedCapacity int
	// CompletedTTL expires completed-work items by age.
	CompletedTTL time.Duration
}

const (
	defaultIdleTimeout     = 2 * time.Minute
	defaultStaleProjectTTL = 30 * time.Minute
	defaultStaleBlockedTTL = 5 * time.Minute
	defaultCompletedCap    = 20
	defaultCompletedTTL    = 5 * time.Minute
)

func (o *Options) fill() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.StaleProjectTTL <= 0 {
		o.StaleProjectTTL = defaultStaleProjectTTL
	}
	if o.StaleBlockedTTL <= 0 {
		o.StaleBlockedTTL = defaultStaleBlockedTTL
	}
	if o.CompletedCapacity <= 0 {
		o.CompletedCapacity = defaultCompletedCap
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = defaultCompletedTTL
	}
}

// Store is the canonical project graph. A single goroutine performs all
// mutation; the lock exists so snapshot readers never observe a write in
// progress.
type Store struct {
	mu        sync.RWMutex
	opts      Options
	projects  map[string]*Project // keyed by normalized path
	shells    map[string]shellRef // background shell id -> agent
	completed []CompletedWorkItem // newest first
	now       func() time.Time
}

type shellRef struct {
	projectKey string
	agentID    string
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	opts.fill()
	return &Store{
		opts:     opts,
		projects: make(map[string]*Project),
		shells:   make(map[string]shellRef),
		now:      time.Now,
	}
}

func (s *Store) clock() time.Time {
	return s.now()
}

// ensureProject returns the project for path, creating it on first sight.
func (s *Store) ensureProject(path string, created *bool) *Project {
	key := NormalizePath(path)
	if p, ok := s.projects[key]; ok {
		return p
	}
	p := &Project{
		ID:             ProjectID(path),
		Path:           path,
		Name:           DisplayName(path),
		Status:         ProjectIdle,
		LastActivityAt: s.clock(),
		Agents:         make(map[string]*Agent),
	}
	s.projects[key] = p
	if created != nil {
		*created = true
	}
	return p
}

// ensureMain returns the main agent for sessionID, installing one when a
// hook event arrives before discovery has registered the session.
func (s *Store) ensureMain(p *Project, sessionID, name string, created *bool) *Agent {
	if a, ok := p.Agents[sessionID]; ok {
		return a
	}
	if a := p.mainAgent(); a != nil && a.ID == sessionID {
		return a
	}
	a := s.installMain(p, sessionID, name)
	if created != nil {
		*created = true
	}
	return a
}

// installMain drops any existing main agent and adds a fresh one.
func (s *Store) installMain(p *Project, sessionID, name string) *Agent {
	for id, a := range p.Agents {
		if a.Type == AgentMain {
			delete(p.Agents, id)
		}
	}
	now := s.clock()
	a := &Agent{
		ID:             sessionID,
		Type:           AgentMain,
		Name:           name,
		Status:         AgentWorking,
		SpawnedAt:      now,
		LastActivityAt: now,
	}
	p.Agents[sessionID] = a
	return a
}

// recompute derives the project status from its agents and keeps
// BlockedSince in step with it.
func (s *Store) recompute(p *Project) bool {
	now := s.clock()
	var blocked, working, rateLimited, server bool
	for _, a := range p.Agents {
		switch a.Status {
		case AgentBlocked:
			blocked = true
		case AgentWorking:
			if now.Sub(a.LastActivityAt) < s.opts.IdleTimeout {
				working = true
			}
		case AgentRateLimited:
			rateLimited = true
		case AgentServerRunning:
			server = true
		}
	}

	status := ProjectIdle
	switch {
	case blocked:
		status = ProjectBlocked
	case working:
		status = ProjectWorking
	case rateLimited:
		status = ProjectRateLimited
	case server:
		status = ProjectServerRunning
	}

	changed := status != p.Status
	if status == ProjectBlocked {
		if p.Status != ProjectBlocked || p.BlockedSince.IsZero() {
			p.BlockedSince = now
		}
	} else if !p.BlockedSince.IsZero() {
		p.BlockedSince = time.Time{}
		changed = true
	}
	p.Status = status
	return changed
}

// SessionStart describes a newly discovered or hook-announced session.
type SessionStart struct {
	SessionID      string
	ProjectPath    string
	AgentName      string // OpenClaw role label, "" for Claude Code
	Task           string
	TranscriptPath string
}

// OnSessionStart registers the main agent for a project. A repeat start
// for the already-installed main agent only refreshes metadata; a start
// with a new session id replaces the previous main agent.
func (s *Store) OnSessionStart(arg SessionStart) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(arg.ProjectPath, &changed)

	a, ok := p.Agents[arg.SessionID]
	if !ok || a.Type != AgentMain {
		a = s.installMain(p, arg.SessionID, arg.AgentName)
		p.LastActivityAt = s.clock()
		changed = true
	}
	if arg.AgentName != "" && a.Name != arg.AgentName {
		a.Name = arg.AgentName
		changed = true
	}
	if arg.Task != "" && a.Task == "" {
		a.Task = Snippet(arg.Task)
		changed = true
	}
	if arg.TranscriptPath != "" && a.TranscriptPath != arg.TranscriptPath {
		a.TranscriptPath = arg.TranscriptPath
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// OnSessionEnd marks the session's main agent complete. Subagents and
// background tasks of the session are completed with it.
func (s *Store) OnSessionEnd(sessionID, projectPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(projectPath)
	if p == nil {
		return false
	}
	a, ok := p.Agents[sessionID]
	if !ok || a.Terminal() {
		return false
	}
	now := s.clock()
	a.Status = AgentComplete
	a.Question = ""
	a.LastActivityAt = now
	for _, child := range p.Agents {
		if child.ParentID == a.ID && !child.Terminal() {
			s.completeAgent(p, child, "", "")
		}
	}
	p.LastActivityAt = now
	s.recompute(p)
	return true
}

// AgentSpawn describes a subagent or background task starting under a
// parent session.
type AgentSpawn struct {
	SessionID   string // parent session
	ProjectPath string
	AgentID     string
	AgentName   string
	AgentType   AgentType // AgentSubagent or AgentBackground
	Task        string
	ShellID     string // background shell handle, optional
}

// OnAgentSpawn adds a child agent under the session's main agent.
func (s *Store) OnAgentSpawn(arg AgentSpawn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(arg.ProjectPath, &changed)
	parent := s.ensureMain(p, arg.SessionID, "", &changed)

	a, ok := p.Agents[arg.AgentID]
	if !ok {
		now := s.clock()
		a = &Agent{
			ID:             arg.AgentID,
			Type:           arg.AgentType,
			ParentID:       parent.ID,
			Name:           arg.AgentName,
			Task:           Snippet(arg.Task),
			Status:         AgentWorking,
			SpawnedAt:      now,
			LastActivityAt: now,
		}
		p.Agents[a.ID] = a
		p.LastActivityAt = now
		changed = true
	}
	if arg.AgentType == AgentSubagent && arg.AgentName != "" && parent.DelegatingTo != arg.AgentName {
		parent.DelegatingTo = arg.AgentName
		changed = true
	}
	if arg.ShellID != "" {
		s.shells[arg.ShellID] = shellRef{projectKey: NormalizePath(arg.ProjectPath), agentID: a.ID}
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// BlockedUpdate describes a session waiting on its human.
type BlockedUpdate struct {
	SessionID   string
	ProjectPath string
	AgentName   string
	Question    string
	Activity    string // last activity before blocking, optional
}

// OnAgentBlocked moves the session's main agent to blocked. A blocked
// agent always carries a question; an empty one gets the generic prompt.
func (s *Store) OnAgentBlocked(arg BlockedUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(arg.ProjectPath, &changed)
	a := s.ensureMain(p, arg.SessionID, arg.AgentName, &changed)

	question := arg.Question
	if question == "" {
		question = "Waiting for your response..."
	}
	if a.Status != AgentBlocked || a.Question != question {
		a.Status = AgentBlocked
		a.Question = question
		a.LastActivityAt = s.clock()
		p.LastActivityAt = a.LastActivityAt
		changed = true
	}
	if arg.Activity != "" && a.CurrentActivity != arg.Activity {
		a.CurrentActivity = arg.Activity
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// OnAgentUnblocked returns a blocked, rate-limited, erroring, or
// server-running main agent to working. A working or complete agent is
// left alone.
func (s *Store) OnAgentUnblocked(sessionID, projectPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(projectPath, &changed)
	a := s.ensureMain(p, sessionID, "", &changed)

	switch a.Status {
	case AgentBlocked, AgentRateLimited, AgentServerRunning, AgentError:
		a.Status = AgentWorking
		a.Question = ""
		a.RateLimitResetAt = time.Time{}
		a.LastActivityAt = s.clock()
		p.LastActivityAt = a.LastActivityAt
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// CompleteUpdate describes a finished agent. AgentID may be absent when
// the reporting hook only knows the role name.
type CompleteUpdate struct {
	SessionID   string
	ProjectPath string
	AgentID     string
	AgentName   string
	Task        string
}

// OnAgentComplete resolves the finished agent by id, then by the newest
// working subagent with a matching name. It falls back to the session's
// main agent only when the name never matched a child agent; a repeat
// hook for an already-completed subagent must not touch the live main
// session. Completion is terminal and idempotent.
func (s *Store) OnAgentComplete(arg CompleteUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(arg.ProjectPath)
	if p == nil {
		return false
	}
	a := p.Agents[arg.AgentID]
	if a == nil && arg.AgentName != "" {
		a = newestWorkingSubagent(p, arg.AgentName)
		if a == nil && namedChildExists(p, arg.AgentName) {
			return false
		}
	}
	if a == nil {
		a = p.Agents[arg.SessionID]
	}
	if a == nil || a.Terminal() {
		return false
	}
	s.completeAgent(p, a, arg.AgentName, arg.Task)
	p.LastActivityAt = s.clock()
	s.recompute(p)
	return true
}

// OnBackgroundTaskComplete finishes a background task by its shell id.
func (s *Store) OnBackgroundTaskComplete(shellID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.shells[shellID]
	if !ok {
		return false
	}
	delete(s.shells, shellID)
	p := s.projects[ref.projectKey]
	if p == nil {
		return false
	}
	a := p.Agents[ref.agentID]
	if a == nil || a.Terminal() {
		return false
	}
	s.completeAgent(p, a, "", "")
	p.LastActivityAt = s.clock()
	s.recompute(p)
	return true
}

// completeAgent finalizes an agent and, for non-main agents, records a
// completed-work item. Callers hold the lock.
func (s *Store) completeAgent(p *Project, a *Agent, nameHint, taskHint string) {
	now := s.clock()
	a.Status = AgentComplete
	a.Question = ""
	a.LastActivityAt = now

	if parent := p.Agents[a.ParentID]; parent != nil && parent.DelegatingTo == a.Name {
		parent.DelegatingTo = ""
	}
	if a.Type == AgentMain {
		return
	}

	name := a.Name
	if name == "" {
		name = nameHint
	}
	task := a.Task
	if task == "" {
		task = Snippet(taskHint)
	}
	item := CompletedWorkItem{
		ID:          uuid.NewString(),
		AgentName:   name,
		Task:        task,
		CompletedAt: now.UnixMilli(),
		ProjectID:   p.ID,
		ProjectName: p.Name,
	}
	s.completed = append([]CompletedWorkItem{item}, s.completed...)
	if len(s.completed) > s.opts.CompletedCapacity {
		s.completed = s.completed[:s.opts.CompletedCapacity]
	}
}

// namedChildExists reports whether any non-main agent with the name was
// ever registered, in any state.
func namedChildExists(p *Project, name string) bool {
	for _, a := range p.Agents {
		if a.Type != AgentMain && a.Name == name {
			return true
		}
	}
	return false
}

func newestWorkingSubagent(p *Project, name string) *Agent {
	var best *Agent
	for _, a := range p.Agents {
		if a.Type != AgentSubagent || a.Status != AgentWorking || a.Name != name {
			continue
		}
		if best == nil || a.SpawnedAt.After(best.SpawnedAt) {
			best = a
		}
	}
	return best
}

// RateLimitUpdate describes a provider rate limit hitting a session.
type RateLimitUpdate struct {
	SessionID   string
	ProjectPath string
	AgentName   string
	Message     string
	ResetAt     time.Time
}

// OnAgentRateLimited moves the session's main agent to rate_limited.
func (s *Store) OnAgentRateLimited(arg RateLimitUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(arg.ProjectPath, &changed)
	a := s.ensureMain(p, arg.SessionID, arg.AgentName, &changed)
	if a.Terminal() {
		return changed
	}
	if a.Status != AgentRateLimited || !a.RateLimitResetAt.Equal(arg.ResetAt) {
		a.Status = AgentRateLimited
		a.Question = ""
		a.RateLimitResetAt = arg.ResetAt
		a.LastActivityAt = s.clock()
		p.LastActivityAt = a.LastActivityAt
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// ServerUpdate describes a dev server parked in the foreground of
// a session.
type ServerUpdate struct {
	SessionID   string
	ProjectPath string
	AgentName   string
	Command     string
	Port        int
}

// OnAgentServerRunning moves the session's main agent to server_running.
func (s *Store) OnAgentServerRunning(arg ServerUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(arg.ProjectPath, &changed)
	a := s.ensureMain(p, arg.SessionID, arg.AgentName, &changed)
	if a.Terminal() {
		return changed
	}
	if a.Status != AgentServerRunning || a.ServerPort != arg.Port {
		a.Status = AgentServerRunning
		a.Question = ""
		a.ServerPort = arg.Port
		if arg.Command != "" {
			a.CurrentActivity = Snippet("Running: " + arg.Command)
		}
		a.LastActivityAt = s.clock()
		p.LastActivityAt = a.LastActivityAt
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// OnAgentError moves the session's main agent to error with a message
// surfaced as its activity.
func (s *Store) OnAgentError(sessionID, projectPath, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(projectPath, &changed)
	a := s.ensureMain(p, sessionID, "", &changed)
	if a.Terminal() {
		return changed
	}
	if a.Status != AgentError || a.CurrentActivity != message {
		a.Status = AgentError
		a.Question = ""
		a.CurrentActivity = message
		a.LastActivityAt = s.clock()
		p.LastActivityAt = a.LastActivityAt
		changed = true
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// OnActivity is the generic heartbeat: something happened in the session.
func (s *Store) OnActivity(sessionID, projectPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	p := s.ensureProject(projectPath, &changed)
	a := s.ensureMain(p, sessionID, "", &changed)
	now := s.clock()
	a.LastActivityAt = now
	p.LastActivityAt = now
	if s.recompute(p) {
		changed = true
	}
	return true
}

// UpdateCurrentActivity sets the agent's activity line from transcript
// polling. The activity timestamp only advances when the text actually
// changes, which is what lets a silent session drift to idle.
func (s *Store) UpdateCurrentActivity(sessionID, projectPath, activity string, line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(projectPath)
	if p == nil {
		return false
	}
	a := p.Agents[sessionID]
	if a == nil || a.Terminal() {
		return false
	}
	// Error and server states own their activity text.
	if a.Status == AgentError || a.Status == AgentServerRunning {
		return false
	}
	changed := false
	if a.CurrentActivity != activity {
		a.CurrentActivity = activity
		now := s.clock()
		a.LastActivityAt = now
		p.LastActivityAt = now
		changed = true
	}
	if line > a.TranscriptLine {
		a.TranscriptLine = line
	}
	if s.recompute(p) {
		changed = true
	}
	return changed
}

// UpdateTodos replaces the agent's todo list when it differs.
func (s *Store) UpdateTodos(sessionID, projectPath string, todos *TodoList) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.agent(projectPath, sessionID)
	if a == nil || a.Todos.equal(todos) {
		return false
	}
	a.Todos = todos.clone()
	return true
}

// UpdatePlanning records the transcript-derived plan-mode flag.
func (s *Store) UpdatePlanning(sessionID, projectPath string, planning bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.agent(projectPath, sessionID)
	if a == nil || a.Modes.Planning == planning {
		return false
	}
	a.Modes.Planning = planning
	return true
}

// SetSessionModes records event-reported modes. The planning flag comes
// from transcript polling and is preserved.
func (s *Store) SetSessionModes(sessionID, projectPath string, modes Modes) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.agent(projectPath, sessionID)
	if a == nil {
		return false
	}
	modes.Planning = a.Modes.Planning
	if a.Modes == modes {
		return false
	}
	a.Modes = modes
	return true
}

// UpdateTask records the agent's task once. Later calls never overwrite.
func (s *Store) UpdateTask(sessionID, projectPath, task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.agent(projectPath, sessionID)
	if a == nil || a.Task != "" || task == "" {
		return false
	}
	a.Task = Snippet(task)
	return true
}

// UpdateLastUserMessage records the newest human message of a project.
func (s *Store) UpdateLastUserMessage(projectPath, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(projectPath)
	if p == nil {
		return false
	}
	msg := Snippet(message)
	if p.LastUserMessage == msg {
		return false
	}
	p.LastUserMessage = msg
	return true
}

// SetProcessBusy records the CPU-sampling hint on the project's main
// agent. The hint is display-only and never feeds status derivation.
func (s *Store) SetProcessBusy(projectPath string, busy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(projectPath)
	if p == nil {
		return false
	}
	a := p.mainAgent()
	if a == nil || a.ProcessBusy == busy {
		return false
	}
	a.ProcessBusy = busy
	return true
}

// Cleanup evicts stale state: idle projects beyond the project TTL,
// blocked main agents whose transcripts went silent, and aged
// completed-work items.
func (s *Store) Cleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	changed := false

	for key, p := range s.projects {
		if a := p.mainAgent(); a != nil && a.Status == AgentBlocked &&
			now.Sub(a.LastActivityAt) > s.opts.StaleBlockedTTL {
			delete(p.Agents, a.ID)
			s.recompute(p)
			changed = true
		}
		if p.Status == ProjectIdle && now.Sub(p.LastActivityAt) > s.opts.StaleProjectTTL {
			delete(s.projects, key)
			changed = true
		}
	}

	cutoff := now.Add(-s.opts.CompletedTTL).UnixMilli()
	kept := s.completed[:0]
	for _, item := range s.completed {
		if item.CompletedAt >= cutoff {
			kept = append(kept, item)
		} else {
			changed = true
		}
	}
	s.completed = kept
	return changed
}

// RecomputeAll re-derives every project status against the current
// clock, catching working agents that crossed the idle threshold with no
// new input.
func (s *Store) RecomputeAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, p := range s.projects {
		if s.recompute(p) {
			changed = true
		}
	}
	return changed
}

// HasSession reports whether the session is registered for the project.
func (s *Store) HasSession(sessionID, projectPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent(projectPath, sessionID) != nil
}

func (s *Store) project(path string) *Project {
	return s.projects[NormalizePath(path)]
}

func (s *Store) agent(projectPath, id string) *Agent {
	p := s.project(projectPath)
	if p == nil {
		return nil
	}
	return p.Agents[id]
}
