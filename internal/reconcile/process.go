package reconcile

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/argus-watch/argus/internal/state"
)

// busyCPUThreshold is the CPU percentage above which an agent process
// counts as actively computing rather than waiting on input.
const busyCPUThreshold = 5.0

// ProcessSampler inspects running agent processes and reports which
// project directories have one burning CPU. The result is a display
// hint; a transcript can look idle while the model is mid-inference.
type ProcessSampler struct{}

func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{}
}

// BusyProjects returns busy flags keyed by normalized working directory.
// A project with several agent processes is busy if any of them is.
func (s *ProcessSampler) BusyProjects() map[string]bool {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	out := make(map[string]bool)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !agentProcessName(name) {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil || cwd == "" {
			continue
		}
		pct, err := p.CPUPercent()
		if err != nil {
			continue
		}
		key := state.NormalizePath(cwd)
		if pct >= busyCPUThreshold {
			out[key] = true
		} else if _, ok := out[key]; !ok {
			out[key] = false
		}
	}
	return out
}

func agentProcessName(name string) bool {
	base := filepath.Base(name)
	switch base {
	case "claude", "claude-code", "openclaw":
		return true
	}
	// Both CLIs run under node when installed via npm.
	return base == "node" && strings.Contains(name, "claude")
}
