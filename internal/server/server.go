// Package server is the HTTP shell: hook ingestion, state reads, the
// WebSocket feed, and the local convenience actions. Handlers never
// mutate state directly; writes go through the reconciler's inbox.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/argus-watch/argus/internal/event"
	"github.com/argus-watch/argus/internal/publish"
	"github.com/argus-watch/argus/internal/state"
)

const maxEventBody = 64 << 10

// Ingestor accepts hook events for asynchronous application.
type Ingestor interface {
	Enqueue(event.Envelope)
}

type Server struct {
	store  *state.Store
	pub    *publish.Publisher
	ingest Ingestor
	opener []string
}

func New(store *state.Store, pub *publish.Publisher, ingest Ingestor, opener []string) *Server {
	return &Server{
		store:  store,
		pub:    pub,
		ingest: ingest,
		opener: opener,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/open", s.handleOpen)
	mux.HandleFunc("/copy-path", s.handleCopyPath)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env event.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := dec.Decode(&env); err != nil {
		http.Error(w, "malformed event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := env.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.ingest.Enqueue(env)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.Snapshot())
}

type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade error: %v", err)
		return
	}

	log.Printf("[server] ws client connected: %s", r.RemoteAddr)
	c := newClient(conn)
	c.enqueue(wsMessage{Type: "state_update", Payload: s.store.Snapshot()})

	sub := s.pub.Subscribe()
	go func() {
		for snap := range sub.C() {
			c.enqueue(wsMessage{Type: "state_update", Payload: snap})
		}
		c.close()
	}()

	go func() {
		defer func() {
			s.pub.Unsubscribe(sub)
			log.Printf("[server] ws client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				c.enqueue(wsMessage{Type: "pong"})
			}
		}
	}()
}

// checkOrigin admits browser connections from this machine only.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return false
}
