package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"
)

type actionRequest struct {
	ProjectPath string `json:"projectPath"`
}

// clipboardCommands are tried in order; the first one on PATH wins.
var clipboardCommands = [][]string{
	{"pbcopy"},
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
}

func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectPath == "" {
		http.Error(w, "projectPath required", http.StatusBadRequest)
		return "", false
	}

	// Actions only apply to supervised projects; arbitrary paths are
	// not accepted from the network.
	snap := s.store.Snapshot()
	for _, p := range snap.Projects {
		if p.Path == req.ProjectPath {
			return p.Path, true
		}
	}
	http.Error(w, "unknown project", http.StatusNotFound)
	return "", false
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	if len(s.opener) == 0 {
		http.Error(w, "no opener configured", http.StatusNotImplemented)
		return
	}

	args := append(append([]string{}, s.opener[1:]...), path)
	cmd := exec.Command(s.opener[0], args...)
	if err := cmd.Start(); err != nil {
		http.Error(w, fmt.Sprintf("opener failed: %v", err), http.StatusInternalServerError)
		return
	}
	go cmd.Wait()

	log.Printf("[server] opened %s via %s", path, s.opener[0])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCopyPath(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	for _, cc := range clipboardCommands {
		bin, err := exec.LookPath(cc[0])
		if err != nil {
			continue
		}
		cmd := exec.Command(bin, cc[1:]...)
		cmd.Stdin = strings.NewReader(path)
		if err := cmd.Run(); err != nil {
			http.Error(w, fmt.Sprintf("clipboard failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// No clipboard tool available: hand the path back so the caller
	// can copy it client-side.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": path})
}
