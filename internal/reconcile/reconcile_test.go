package reconcile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/argus-watch/argus/internal/config"
	"github.com/argus-watch/argus/internal/event"
	"github.com/argus-watch/argus/internal/publish"
	"github.com/argus-watch/argus/internal/scan"
	"github.com/argus-watch/argus/internal/state"
)

type fixture struct {
	r          *Reconciler
	store      *state.Store
	claudeRoot string
	project    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	claudeRoot := t.TempDir()
	scanner := scan.New(claudeRoot, filepath.Join(t.TempDir(), "none"), 5*time.Minute, 30*time.Minute)
	store := state.NewStore(state.Options{})
	pub := publish.New()
	t.Cleanup(pub.Close)
	cfg := config.ReconcileConfig{
		FullInterval:    5 * time.Second,
		FastInterval:    3 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
	return &fixture{
		r:          New(cfg, scanner, store, pub, nil),
		store:      store,
		claudeRoot: claudeRoot,
		project:    t.TempDir(),
	}
}

func (f *fixture) writeTranscript(t *testing.T, session string, lines ...string) string {
	t.Helper()
	path := filepath.Join(f.claudeRoot, "-proj", session+".jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `{"type":"user","cwd":"` + f.project + `","message":{"content":"Build the API"}}` + "\n"
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
	// Push mtime forward so the stat short-circuit sees the append even
	// on filesystems with coarse timestamps.
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) findProject(t *testing.T) state.ProjectView {
	t.Helper()
	snap := f.store.Snapshot()
	for _, p := range snap.Projects {
		if p.Path == f.project {
			return p
		}
	}
	t.Fatalf("project %q not in snapshot", f.project)
	return state.ProjectView{}
}

const (
	assistantText   = `{"type":"assistant","message":{"content":[{"type":"text","text":"Working on it."}]}}`
	assistantEdit   = `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/a/main.go"}}]}}`
	askQuestion     = `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"AskUserQuestion","input":{"questions":[{"question":"Deploy to staging?"}]}}]}}`
	rateLimitLine   = `{"type":"system","message":"You've hit your rate limit. Try again in 5 minutes."}`
	contextOverflow = `{"type":"system","message":"Error: prompt is too long"}`
	serverStart     = `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"npm run dev","run_in_background":true,"description":"Start dev server"}}]}}`
	serverReady     = `{"type":"system","message":"Local: http://localhost:5173 ready in 300ms"}`
	userAnswer      = `{"type":"user","message":{"content":"yes, go ahead"}}`
)

func TestFullPassDiscoversWorkingSession(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantEdit)

	if !f.r.FullPass(time.Now()) {
		t.Fatal("FullPass: changed = false on first discovery")
	}
	p := f.findProject(t)
	if p.Status != state.ProjectWorking {
		t.Errorf("status = %q, want working", p.Status)
	}
	a := p.Agents["s1"]
	if a.ID != "s1" || a.Type != state.AgentMain {
		t.Errorf("agent = %+v", a)
	}
	if a.Task != "Build the API" {
		t.Errorf("task = %q", a.Task)
	}
	if a.CurrentActivity != "Editing main.go" {
		t.Errorf("currentActivity = %q", a.CurrentActivity)
	}
	if p.LastUserMessage != "Build the API" {
		t.Errorf("lastUserMessage = %q", p.LastUserMessage)
	}
}

func TestFullPassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText)

	if !f.r.FullPass(time.Now()) {
		t.Fatal("first pass: changed = false")
	}
	if f.r.FullPass(time.Now()) {
		t.Error("second pass with unchanged inputs: changed = true, want false")
	}
}

func TestQuestionBlocksAndAnswerReleases(t *testing.T) {
	f := newFixture(t)
	path := f.writeTranscript(t, "s1", assistantEdit, askQuestion)

	f.r.FullPass(time.Now())
	p := f.findProject(t)
	if p.Status != state.ProjectBlocked {
		t.Fatalf("status = %q, want blocked", p.Status)
	}
	a := p.Agents["s1"]
	if a.Question != "Deploy to staging?" {
		t.Errorf("question = %q", a.Question)
	}
	if a.CurrentActivity != "Deploy to staging?" {
		t.Errorf("currentActivity = %q", a.CurrentActivity)
	}
	if p.BlockedSince == 0 {
		t.Error("blocked project has no blockedSince")
	}

	appendLine(t, path, userAnswer)
	if !f.r.FullPass(time.Now()) {
		t.Fatal("pass after answer: changed = false")
	}
	p = f.findProject(t)
	if p.Status != state.ProjectWorking {
		t.Errorf("status after answer = %q, want working", p.Status)
	}
	if p.Agents["s1"].Question != "" {
		t.Errorf("question survived the answer: %q", p.Agents["s1"].Question)
	}
	if p.LastUserMessage != "yes, go ahead" {
		t.Errorf("lastUserMessage = %q", p.LastUserMessage)
	}
}

func TestRateLimitDetected(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText, rateLimitLine)

	now := time.Now()
	f.r.FullPass(now)
	p := f.findProject(t)
	if p.Status != state.ProjectRateLimited {
		t.Fatalf("status = %q, want rate_limited", p.Status)
	}
	want := now.Add(5 * time.Minute).UnixMilli()
	got := p.Agents["s1"].RateLimitResetAt
	if got < want-1000 || got > want+1000 {
		t.Errorf("rateLimitResetAt = %d, want about %d", got, want)
	}
}

func TestSystemErrorDetected(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText, contextOverflow)

	f.r.FullPass(time.Now())
	p := f.findProject(t)
	a := p.Agents["s1"]
	if a.Status != state.AgentError {
		t.Fatalf("agent status = %q, want error", a.Status)
	}
	if a.CurrentActivity != "Context limit reached: compact or start a new session" {
		t.Errorf("currentActivity = %q", a.CurrentActivity)
	}
	// An errored agent is not awaiting input, so it is not blocked.
	if p.Status == state.ProjectBlocked {
		t.Error("error state misreported as blocked")
	}
}

func TestBackgroundServerDetected(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", serverStart, serverReady)

	f.r.FullPass(time.Now())
	p := f.findProject(t)
	if p.Status != state.ProjectServerRunning {
		t.Fatalf("status = %q, want server_running", p.Status)
	}
	if p.Agents["s1"].ServerPort != 5173 {
		t.Errorf("serverPort = %d, want 5173", p.Agents["s1"].ServerPort)
	}
}

func TestNewestTranscriptWinsPerProject(t *testing.T) {
	f := newFixture(t)
	older := f.writeTranscript(t, "old", assistantText)
	past := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}
	f.writeTranscript(t, "new", assistantText)

	f.r.FullPass(time.Now())
	p := f.findProject(t)
	mains := 0
	for _, a := range p.Agents {
		if a.Type == state.AgentMain {
			mains++
			if a.ID != "new" {
				t.Errorf("main agent = %q, want the newest transcript", a.ID)
			}
		}
	}
	if mains != 1 {
		t.Errorf("main agent count = %d, want 1", mains)
	}
}

func TestFastPassSkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t)
	path := f.writeTranscript(t, "s1", assistantText)
	f.r.FullPass(time.Now())

	if f.r.FastPass() {
		t.Error("fast pass with untouched file: changed = true, want false")
	}

	appendLine(t, path, assistantEdit)
	if !f.r.FastPass() {
		t.Fatal("fast pass after append: changed = false")
	}
	a := f.findProject(t).Agents["s1"]
	if a.CurrentActivity != "Editing main.go" {
		t.Errorf("currentActivity = %q", a.CurrentActivity)
	}
	// Only the appended line was read; its number is still file-absolute.
	if a.TranscriptLine != 3 {
		t.Errorf("transcriptLine = %d, want 3", a.TranscriptLine)
	}
}

func TestFastPassHandlesRewrittenFile(t *testing.T) {
	f := newFixture(t)
	path := f.writeTranscript(t, "s1", assistantText)
	f.r.FullPass(time.Now())

	// Rewrite the file shorter than the recorded read offset.
	content := `{"type":"user","cwd":"` + f.project + `","message":{"content":"hi"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f.r.FastPass()

	appendLine(t, path, assistantEdit)
	if !f.r.FastPass() {
		t.Fatal("fast pass after rewrite and append: changed = false")
	}
	a := f.findProject(t).Agents["s1"]
	if a.CurrentActivity != "Editing main.go" {
		t.Errorf("currentActivity = %q", a.CurrentActivity)
	}
}

func TestEnqueueConcurrentWhenFull(t *testing.T) {
	f := newFixture(t)
	env := event.Envelope{Type: event.Activity, SessionID: "s1", ProjectPath: f.project}

	// Fill the inbox; nothing is draining it, so the rest hit the drop
	// path from many goroutines at once.
	for i := 0; i < 300; i++ {
		f.r.Enqueue(env)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f.r.Enqueue(env)
			}
		}()
	}
	wg.Wait()
}

func TestApplyEventSpawnAndComplete(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText)
	f.r.FullPass(time.Now())

	if !f.r.ApplyEvent(event.Envelope{
		Type:        event.AgentSpawn,
		SessionID:   "s1",
		ProjectPath: f.project,
		AgentID:     "sub1",
		AgentName:   "reviewer",
		Task:        "review the diff",
		Metadata:    &event.Metadata{AgentType: "subagent"},
	}) {
		t.Fatal("spawn event: changed = false")
	}
	p := f.findProject(t)
	if len(p.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(p.Agents))
	}
	if p.Agents["s1"].DelegatingTo != "reviewer" {
		t.Errorf("delegatingTo = %q", p.Agents["s1"].DelegatingTo)
	}

	if !f.r.ApplyEvent(event.Envelope{
		Type:        event.AgentComplete,
		SessionID:   "s1",
		ProjectPath: f.project,
		AgentName:   "reviewer",
	}) {
		t.Fatal("complete event: changed = false")
	}
	snap := f.store.Snapshot()
	if len(snap.CompletedWork) != 1 || snap.CompletedWork[0].AgentName != "reviewer" {
		t.Errorf("completedWork = %+v", snap.CompletedWork)
	}
}

func TestApplyEventAutoRegisters(t *testing.T) {
	f := newFixture(t)

	if !f.r.ApplyEvent(event.Envelope{
		Type:        event.AgentBlocked,
		SessionID:   "s9",
		ProjectPath: f.project,
		Question:    "Continue?",
	}) {
		t.Fatal("blocked event on unknown session: changed = false")
	}
	p := f.findProject(t)
	if p.Status != state.ProjectBlocked {
		t.Errorf("status = %q, want blocked", p.Status)
	}
}

func TestApplyEventRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	if f.r.ApplyEvent(event.Envelope{Type: "bogus", SessionID: "s1", ProjectPath: f.project}) {
		t.Error("invalid event applied")
	}
	if f.r.ApplyEvent(event.Envelope{Type: event.Activity, ProjectPath: f.project}) {
		t.Error("event without sessionId applied")
	}
}

func TestApplyEventRalphModes(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText)
	f.r.FullPass(time.Now())

	if !f.r.ApplyEvent(event.Envelope{
		Type:        event.Activity,
		SessionID:   "s1",
		ProjectPath: f.project,
		Metadata:    &event.Metadata{RalphIteration: 3, RalphMaxIterations: 10, UltraworkActive: true},
	}) {
		t.Fatal("activity event with modes: changed = false")
	}
	a := f.findProject(t).Agents["s1"]
	if a.Modes == nil || !a.Modes.Ralph || a.Modes.RalphIteration != 3 || !a.Modes.Ultrawork {
		t.Errorf("modes = %+v", a.Modes)
	}
}

func TestBackgroundShellCompleteEvent(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "s1", assistantText)
	f.r.FullPass(time.Now())

	f.r.ApplyEvent(event.Envelope{
		Type:        event.AgentSpawn,
		SessionID:   "s1",
		ProjectPath: f.project,
		AgentName:   "npm test",
		Metadata:    &event.Metadata{AgentType: "background", ShellID: "shell-3"},
	})
	if !f.r.ApplyEvent(event.Envelope{
		Type:        event.AgentComplete,
		SessionID:   "s1",
		ProjectPath: f.project,
		Metadata:    &event.Metadata{BackgroundTaskComplete: "shell-3"},
	}) {
		t.Fatal("background complete event: changed = false")
	}
	snap := f.store.Snapshot()
	if len(snap.CompletedWork) != 1 || snap.CompletedWork[0].AgentName != "npm test" {
		t.Errorf("completedWork = %+v", snap.CompletedWork)
	}
}
