package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argus-watch/argus/internal/event"
	"github.com/argus-watch/argus/internal/publish"
	"github.com/argus-watch/argus/internal/state"
)

type captureIngest struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (c *captureIngest) Enqueue(env event.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, env)
}

func (c *captureIngest) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fixture struct {
	ts     *httptest.Server
	store  *state.Store
	pub    *publish.Publisher
	ingest *captureIngest
}

func newFixture(t *testing.T, opener []string) *fixture {
	t.Helper()
	store := state.NewStore(state.Options{})
	pub := publish.New()
	ingest := &captureIngest{}
	mux := http.NewServeMux()
	New(store, pub, ingest, opener).SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		pub.Close()
	})
	return &fixture{ts: ts, store: store, pub: pub, ingest: ingest}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEventIngestion(t *testing.T) {
	f := newFixture(t, nil)

	resp := postJSON(t, f.ts.URL+"/events",
		`{"type":"agent_blocked","sessionId":"s1","projectPath":"/p","question":"Deploy?"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if f.ingest.count() != 1 {
		t.Fatalf("ingested = %d events, want 1", f.ingest.count())
	}
	f.ingest.mu.Lock()
	env := f.ingest.events[0]
	f.ingest.mu.Unlock()
	if env.Type != event.AgentBlocked || env.Question != "Deploy?" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestEventValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"unknown type", `{"type":"nope","sessionId":"s1","projectPath":"/p"}`, http.StatusBadRequest},
		{"missing session", `{"type":"activity","projectPath":"/p"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, f.ts.URL+"/events", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
	if f.ingest.count() != 0 {
		t.Errorf("invalid events reached the ingestor: %d", f.ingest.count())
	}

	resp, err := http.Get(f.ts.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /events status = %d, want 405", resp.StatusCode)
	}
}

func TestStateEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.store.OnSessionStart(state.SessionStart{SessionID: "s1", ProjectPath: "/home/u/proj"})

	resp, err := http.Get(f.ts.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap state.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Projects) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if p := snap.Projects[state.ProjectID("/home/u/proj")]; p.Path != "/home/u/proj" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func wsDial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func msgType(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	if err := json.Unmarshal(msg["type"], &typ); err != nil {
		t.Fatal(err)
	}
	return typ
}

func TestWebSocketInitialSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.store.OnSessionStart(state.SessionStart{SessionID: "s1", ProjectPath: "/home/u/proj"})
	conn := wsDial(t, f)

	msg := readMessage(t, conn)
	if got := msgType(t, msg); got != "state_update" {
		t.Fatalf("first message type = %q, want state_update", got)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(msg["payload"], &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Projects) != 1 {
		t.Errorf("initial snapshot projects = %d, want 1", len(snap.Projects))
	}
}

func TestWebSocketReceivesPublishedSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	conn := wsDial(t, f)
	readMessage(t, conn) // initial snapshot

	f.store.OnSessionStart(state.SessionStart{SessionID: "s1", ProjectPath: "/home/u/proj"})
	f.pub.Publish(f.store.Snapshot())

	msg := readMessage(t, conn)
	if got := msgType(t, msg); got != "state_update" {
		t.Fatalf("message type = %q, want state_update", got)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(msg["payload"], &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Projects) != 1 {
		t.Errorf("published snapshot projects = %d, want 1", len(snap.Projects))
	}
}

func TestWebSocketPing(t *testing.T) {
	f := newFixture(t, nil)
	conn := wsDial(t, f)
	readMessage(t, conn) // initial snapshot

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, conn)
	if got := msgType(t, msg); got != "pong" {
		t.Errorf("message type = %q, want pong", got)
	}
}

func TestOpenRequiresKnownProject(t *testing.T) {
	f := newFixture(t, []string{"true"})

	resp := postJSON(t, f.ts.URL+"/open", `{"projectPath":"/nope"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp = postJSON(t, f.ts.URL+"/open", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", resp.StatusCode)
	}
}

func TestOpenWithoutOpener(t *testing.T) {
	f := newFixture(t, nil)
	f.store.OnSessionStart(state.SessionStart{SessionID: "s1", ProjectPath: "/home/u/proj"})

	resp := postJSON(t, f.ts.URL+"/open", `{"projectPath":"/home/u/proj"}`)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestOpenLaunchesOpener(t *testing.T) {
	f := newFixture(t, []string{"true"})
	f.store.OnSessionStart(state.SessionStart{SessionID: "s1", ProjectPath: "/home/u/proj"})

	resp := postJSON(t, f.ts.URL+"/open", `{"projectPath":"/home/u/proj"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}
