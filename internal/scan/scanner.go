// Package scan discovers live agent transcripts on disk. It walks the
// Claude Code and OpenClaw roots every cycle, filters by modification
// time, and resolves each active transcript to the project it belongs to.
package scan

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/argus-watch/argus/internal/transcript"
)

// Candidate is one active transcript: a potential main agent for its
// project. Multiple candidates per project are expected; the reconciler
// keeps only the newest.
type Candidate struct {
	SessionID      string
	ProjectPath    string
	Flavor         transcript.Flavor
	AgentLabel     string // OpenClaw role name, "" for Claude Code
	TranscriptPath string
	ModTime        time.Time
}

// Scanner enumerates the two transcript roots.
type Scanner struct {
	claudeRoot     string
	openclawRoot   string
	claudeWindow   time.Duration
	openclawWindow time.Duration
}

// New creates a Scanner over the given roots. The windows bound how old a
// transcript's mtime may be to still count as active; OpenClaw sessions
// tolerate much longer conversational pauses than Claude Code ones.
func New(claudeRoot, openclawRoot string, claudeWindow, openclawWindow time.Duration) *Scanner {
	return &Scanner{
		claudeRoot:     claudeRoot,
		openclawRoot:   openclawRoot,
		claudeWindow:   claudeWindow,
		openclawWindow: openclawWindow,
	}
}

// Roots returns the scan roots, for callers that want to watch them.
func (s *Scanner) Roots() []string {
	return []string{s.claudeRoot, s.openclawRoot}
}

// Scan returns all active transcripts under both roots, newest first.
// A missing root is not an error; it just yields nothing.
func (s *Scanner) Scan(now time.Time) []Candidate {
	var out []Candidate
	out = append(out, s.scanClaude(now)...)
	out = append(out, s.scanOpenClaw(now)...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out
}

// scanClaude walks $root/<encoded-dir>/<sessionId>.jsonl. The encoded
// directory name is deliberately never decoded (the encoding is lossy);
// the true project path always comes from inside the transcript.
func (s *Scanner) scanClaude(now time.Time) []Candidate {
	dirs, err := os.ReadDir(s.claudeRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[claude] scan root error: %v", err)
		}
		return nil
	}

	cutoff := now.Add(-s.claudeWindow)
	var out []Candidate

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		dirPath := filepath.Join(s.claudeRoot, dir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			path := filepath.Join(dirPath, f.Name())
			info, ok := activeTranscript(f, cutoff)
			if !ok {
				continue
			}
			cwd, err := transcript.CwdFromFile(path)
			if err != nil || cwd == "" {
				// No cwd yet: the session just started and the meta
				// entry has not been written. Skip this cycle.
				continue
			}
			out = append(out, Candidate{
				SessionID:      sessionIDFromPath(path),
				ProjectPath:    cwd,
				Flavor:         transcript.FlavorClaude,
				TranscriptPath: path,
				ModTime:        info.ModTime(),
			})
		}
	}
	return out
}

// scanOpenClaw walks $root/<agentId>/sessions/<sessionId>.jsonl.
func (s *Scanner) scanOpenClaw(now time.Time) []Candidate {
	agents, err := os.ReadDir(s.openclawRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[openclaw] scan root error: %v", err)
		}
		return nil
	}

	cutoff := now.Add(-s.openclawWindow)
	var out []Candidate

	for _, agent := range agents {
		if !agent.IsDir() {
			continue
		}
		sessionsDir := filepath.Join(s.openclawRoot, agent.Name(), "sessions")
		files, err := os.ReadDir(sessionsDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.Contains(f.Name(), ".deleted.") {
				continue
			}
			path := filepath.Join(sessionsDir, f.Name())
			info, ok := activeTranscript(f, cutoff)
			if !ok {
				continue
			}
			cwd, err := transcript.CwdFromFile(path)
			if err != nil || cwd == "" {
				continue
			}
			out = append(out, Candidate{
				SessionID:      sessionIDFromPath(path),
				ProjectPath:    cwd,
				Flavor:         transcript.FlavorOpenClaw,
				AgentLabel:     agentLabel(cwd, agent.Name()),
				TranscriptPath: path,
				ModTime:        info.ModTime(),
			})
		}
	}
	return out
}

func activeTranscript(f os.DirEntry, cutoff time.Time) (os.FileInfo, bool) {
	if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
		return nil, false
	}
	info, err := f.Info()
	if err != nil {
		return nil, false
	}
	if !info.ModTime().After(cutoff) {
		return nil, false
	}
	return info, true
}

func sessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}
