package scan

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var identityNamePattern = regexp.MustCompile(`\*\*Name:\*\*\s*(.+)`)

// agentLabel resolves the display name of an OpenClaw agent. When the
// project directory carries an IDENTITY.md with a "**Name:** ..." line,
// that name wins (parentheticals stripped); otherwise the agent id
// segment from the transcript path is used.
func agentLabel(projectDir, agentID string) string {
	if name := identityName(projectDir); name != "" {
		return name
	}
	return agentID
}

func identityName(projectDir string) string {
	if projectDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(projectDir, "IDENTITY.md"))
	if err != nil {
		return ""
	}
	m := identityNamePattern.FindSubmatch(data)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(string(m[1]))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	return name
}
