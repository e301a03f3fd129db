// Package reconcile drives the state store. One goroutine owns all
// writes: it folds transcript polling, hook events, process sampling,
// and cleanup into store transitions, and publishes a snapshot whenever
// something observable changed.
package reconcile

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-watch/argus/internal/config"
	"github.com/argus-watch/argus/internal/event"
	"github.com/argus-watch/argus/internal/extract"
	"github.com/argus-watch/argus/internal/publish"
	"github.com/argus-watch/argus/internal/scan"
	"github.com/argus-watch/argus/internal/state"
	"github.com/argus-watch/argus/internal/transcript"
)

// tailEntries bounds how much transcript is re-read per pass. All
// extractors work on bounded windows well inside this.
const tailEntries = 200

// tracked holds per-session poll state between passes. offset and
// nextLine mark where the last read stopped so the fast path only
// parses appended lines.
type tracked struct {
	candidate scan.Candidate
	size      int64
	modTime   time.Time
	offset    int64
	nextLine  int
}

// BusySampler reports, per normalized project path, whether an agent
// process is currently consuming CPU.
type BusySampler interface {
	BusyProjects() map[string]bool
}

type Reconciler struct {
	cfg     config.ReconcileConfig
	scanner *scan.Scanner
	store   *state.Store
	pub     *publish.Publisher
	sampler BusySampler // nil disables process hints

	inbox chan event.Envelope
	nudge chan struct{}

	tracked map[string]*tracked // keyed by sessionID

	dropMu      sync.Mutex // guards the drop counters against handler goroutines
	dropped     int64
	lastDropLog time.Time
}

func New(cfg config.ReconcileConfig, scanner *scan.Scanner, store *state.Store, pub *publish.Publisher, sampler BusySampler) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		scanner: scanner,
		store:   store,
		pub:     pub,
		sampler: sampler,
		inbox:   make(chan event.Envelope, 256),
		nudge:   make(chan struct{}, 1),
		tracked: make(map[string]*tracked),
	}
}

// Enqueue hands a hook event to the reconciler without blocking the
// caller. Drops are counted and logged at most once per 10 seconds.
func (r *Reconciler) Enqueue(env event.Envelope) {
	select {
	case r.inbox <- env:
	default:
		r.dropMu.Lock()
		r.dropped++
		now := time.Now()
		if r.lastDropLog.IsZero() || now.Sub(r.lastDropLog) >= 10*time.Second {
			log.Printf("[reconcile] events dropped: %d (inbox full)", r.dropped)
			r.dropped = 0
			r.lastDropLog = now
		}
		r.dropMu.Unlock()
	}
}

// Nudge requests an early fast pass, typically from a filesystem watch.
func (r *Reconciler) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run loops until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	full := time.NewTicker(r.cfg.FullInterval)
	defer full.Stop()
	fast := time.NewTicker(r.cfg.FastInterval)
	defer fast.Stop()
	cleanup := time.NewTicker(r.cfg.CleanupInterval)
	defer cleanup.Stop()

	log.Printf("[reconcile] started (full %v, fast %v)", r.cfg.FullInterval, r.cfg.FastInterval)

	if r.FullPass(time.Now()) {
		r.publishSnapshot()
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("[reconcile] stopped")
			return
		case env := <-r.inbox:
			if r.ApplyEvent(env) {
				r.publishSnapshot()
			}
		case <-full.C:
			if r.FullPass(time.Now()) {
				r.publishSnapshot()
			}
		case <-fast.C:
			if r.FastPass() {
				r.publishSnapshot()
			}
		case <-r.nudge:
			if r.FastPass() {
				r.publishSnapshot()
			}
		case <-cleanup.C:
			if r.store.Cleanup() {
				r.publishSnapshot()
			}
		}
	}
}

func (r *Reconciler) publishSnapshot() {
	r.pub.Publish(r.store.Snapshot())
}

// FullPass runs discovery and re-derives every session's semantic state
// from its transcript. Returns whether observable state changed.
func (r *Reconciler) FullPass(now time.Time) bool {
	changed := false

	candidates := r.scanner.Scan(now)
	// One main agent per project: the newest transcript wins, the rest
	// are ignored until they overtake it.
	seen := make(map[string]scan.Candidate)
	for _, c := range candidates {
		key := state.NormalizePath(c.ProjectPath)
		if _, ok := seen[key]; !ok {
			seen[key] = c
		}
	}

	live := make(map[string]bool, len(seen))
	for _, c := range seen {
		live[c.SessionID] = true
		if !r.store.HasSession(c.SessionID, c.ProjectPath) {
			if r.store.OnSessionStart(state.SessionStart{
				SessionID:      c.SessionID,
				ProjectPath:    c.ProjectPath,
				AgentName:      c.AgentLabel,
				TranscriptPath: c.TranscriptPath,
			}) {
				changed = true
			}
			log.Printf("[reconcile] session %s discovered in %s", c.SessionID, c.ProjectPath)
		}
		if r.applyTranscript(c, now) {
			changed = true
		}
		r.remember(c)
	}
	for id := range r.tracked {
		if !live[id] {
			delete(r.tracked, id)
		}
	}

	if r.sampler != nil {
		busy := r.sampler.BusyProjects()
		for _, c := range seen {
			if r.store.SetProcessBusy(c.ProjectPath, busy[state.NormalizePath(c.ProjectPath)]) {
				changed = true
			}
		}
	}

	if r.store.RecomputeAll() {
		changed = true
	}
	return changed
}

// FastPass refreshes activity and todos for sessions whose transcript
// grew since the last look. Sessions with an unchanged file are skipped
// on a single stat call; changed files only have their appended lines
// parsed, resuming from the offset the previous read stopped at.
func (r *Reconciler) FastPass() bool {
	changed := false
	for _, t := range r.tracked {
		info, err := os.Stat(t.candidate.TranscriptPath)
		if err != nil {
			continue
		}
		if info.Size() == t.size && info.ModTime().Equal(t.modTime) {
			continue
		}
		t.size = info.Size()
		t.modTime = info.ModTime()
		if info.Size() < t.offset {
			// The file shrank: rewritten, not appended. Start over.
			t.offset, t.nextLine = 0, 1
		}

		entries, next, nextLine, err := transcript.ReadIncremental(t.candidate.TranscriptPath, t.offset, t.nextLine)
		if err != nil {
			continue
		}
		t.offset, t.nextLine = next, nextLine
		if len(entries) == 0 {
			continue
		}
		c := t.candidate
		if act, ok := extract.CurrentActivity(entries); ok {
			if r.store.UpdateCurrentActivity(c.SessionID, c.ProjectPath, act.Text, act.Line) {
				changed = true
			}
		}
		if r.applyTodos(c, entries) {
			changed = true
		}
	}
	return changed
}

// track returns the poll state for the candidate's session, creating it
// on first sight.
func (r *Reconciler) track(c scan.Candidate) *tracked {
	t, ok := r.tracked[c.SessionID]
	if !ok {
		t = &tracked{nextLine: 1}
		r.tracked[c.SessionID] = t
	}
	t.candidate = c
	return t
}

func (r *Reconciler) remember(c scan.Candidate) {
	t := r.track(c)
	if info, err := os.Stat(c.TranscriptPath); err == nil {
		t.size = info.Size()
		t.modTime = info.ModTime()
	}
}

// applyTranscript folds one transcript's semantics into the store. The
// full pass reads from the start so the read also resets the session's
// incremental cursor.
func (r *Reconciler) applyTranscript(c scan.Candidate, now time.Time) bool {
	entries, next, nextLine, err := transcript.ReadIncremental(c.TranscriptPath, 0, 0)
	if err != nil {
		log.Printf("[reconcile] parse %s: %v", c.TranscriptPath, err)
		return false
	}
	t := r.track(c)
	t.offset, t.nextLine = next, nextLine
	if len(entries) > tailEntries {
		entries = entries[len(entries)-tailEntries:]
	}
	if len(entries) == 0 {
		return false
	}

	changed := false
	sid, path := c.SessionID, c.ProjectPath

	if task, ok := extract.InitialTask(entries); ok {
		if r.store.UpdateTask(sid, path, task) {
			changed = true
		}
	}
	if msg, ok := extract.LastUserMessage(entries); ok {
		if r.store.UpdateLastUserMessage(path, msg) {
			changed = true
		}
	}
	if r.applyTodos(c, entries) {
		changed = true
	}
	if r.store.UpdatePlanning(sid, path, extract.PlanMode(entries)) {
		changed = true
	}

	act, actOK := extract.CurrentActivity(entries)
	updateActivity := func() {
		if actOK && r.store.UpdateCurrentActivity(sid, path, act.Text, act.Line) {
			changed = true
		}
	}

	// Blocking conditions in priority order. Exactly one applies; with
	// none present the session is released back to working. The error
	// and server branches write their own activity text, so the
	// transcript-derived activity is only applied in the others.
	switch {
	case blockedOnQuestion(entries):
		updateActivity()
		q, _ := extract.PendingQuestion(entries)
		if r.store.OnAgentBlocked(state.BlockedUpdate{
			SessionID:   sid,
			ProjectPath: path,
			AgentName:   c.AgentLabel,
			Question:    q.Text,
			Activity:    act.Text,
		}) {
			changed = true
		}
	case systemErrored(entries):
		e, _ := extract.DetectSystemError(entries)
		if r.store.OnAgentError(sid, path, e.Message) {
			changed = true
		}
	case rateLimited(entries, now):
		updateActivity()
		rl, _ := extract.DetectRateLimit(entries, now)
		if r.store.OnAgentRateLimited(state.RateLimitUpdate{
			SessionID:   sid,
			ProjectPath: path,
			AgentName:   c.AgentLabel,
			Message:     rl.Message,
			ResetAt:     rl.ResetAt,
		}) {
			changed = true
		}
	case serverParked(entries):
		srv, _ := extract.DetectServer(entries)
		if r.store.OnAgentServerRunning(state.ServerUpdate{
			SessionID:   sid,
			ProjectPath: path,
			AgentName:   c.AgentLabel,
			Command:     srv.Command,
			Port:        srv.Port,
		}) {
			changed = true
		}
	default:
		if r.store.OnAgentUnblocked(sid, path) {
			changed = true
		}
		updateActivity()
	}
	return changed
}

func blockedOnQuestion(entries []transcript.Entry) bool {
	_, ok := extract.PendingQuestion(entries)
	return ok
}

func systemErrored(entries []transcript.Entry) bool {
	_, ok := extract.DetectSystemError(entries)
	return ok
}

func rateLimited(entries []transcript.Entry, now time.Time) bool {
	_, ok := extract.DetectRateLimit(entries, now)
	return ok
}

func serverParked(entries []transcript.Entry) bool {
	_, ok := extract.DetectServer(entries)
	return ok
}

func (r *Reconciler) applyTodos(c scan.Candidate, entries []transcript.Entry) bool {
	todos, ok := extract.LatestTodos(entries)
	if !ok {
		return false
	}
	list := &state.TodoList{
		Items: make([]state.TodoItem, len(todos.Items)),
		Counts: state.TodoCounts{
			Pending:    todos.Counts.Pending,
			InProgress: todos.Counts.InProgress,
			Completed:  todos.Counts.Completed,
		},
	}
	for i, item := range todos.Items {
		list.Items[i] = state.TodoItem{
			Content:    item.Content,
			Status:     item.Status,
			ActiveForm: item.ActiveForm,
		}
	}
	return r.store.UpdateTodos(c.SessionID, c.ProjectPath, list)
}

// ApplyEvent folds one hook event into the store. Events referencing a
// session that discovery has not seen yet auto-register it.
func (r *Reconciler) ApplyEvent(env event.Envelope) bool {
	if err := env.Validate(); err != nil {
		log.Printf("[reconcile] rejected event: %v", err)
		return false
	}
	meta := env.Meta()
	changed := false

	switch env.Type {
	case event.SessionStart:
		changed = r.store.OnSessionStart(state.SessionStart{
			SessionID:   env.SessionID,
			ProjectPath: env.ProjectPath,
			AgentName:   env.AgentName,
			Task:        env.Task,
		})
	case event.SessionEnd:
		changed = r.store.OnSessionEnd(env.SessionID, env.ProjectPath)
		delete(r.tracked, env.SessionID)
	case event.AgentSpawn:
		agentType := state.AgentSubagent
		if meta.AgentType == "background" {
			agentType = state.AgentBackground
		}
		agentID := env.AgentID
		if agentID == "" {
			agentID = uuid.NewString()
		}
		changed = r.store.OnAgentSpawn(state.AgentSpawn{
			SessionID:   env.SessionID,
			ProjectPath: env.ProjectPath,
			AgentID:     agentID,
			AgentName:   env.AgentName,
			AgentType:   agentType,
			Task:        env.Task,
			ShellID:     meta.ShellID,
		})
	case event.AgentBlocked:
		changed = r.store.OnAgentBlocked(state.BlockedUpdate{
			SessionID:   env.SessionID,
			ProjectPath: env.ProjectPath,
			AgentName:   env.AgentName,
			Question:    env.Question,
		})
	case event.AgentUnblock:
		changed = r.store.OnAgentUnblocked(env.SessionID, env.ProjectPath)
	case event.AgentComplete:
		if meta.BackgroundTaskComplete != "" {
			changed = r.store.OnBackgroundTaskComplete(meta.BackgroundTaskComplete)
		} else {
			changed = r.store.OnAgentComplete(state.CompleteUpdate{
				SessionID:   env.SessionID,
				ProjectPath: env.ProjectPath,
				AgentID:     env.AgentID,
				AgentName:   env.AgentName,
				Task:        env.Task,
			})
		}
	case event.Activity:
		changed = r.store.OnActivity(env.SessionID, env.ProjectPath)
	}

	if meta.RalphIteration > 0 || meta.UltraworkActive {
		if r.store.SetSessionModes(env.SessionID, env.ProjectPath, state.Modes{
			Ralph:              meta.RalphIteration > 0,
			RalphIteration:     meta.RalphIteration,
			RalphMaxIterations: meta.RalphMaxIterations,
			Ultrawork:          meta.UltraworkActive,
		}) {
			changed = true
		}
	}
	return changed
}
