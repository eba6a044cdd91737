// Package workspace defines per-agent directory namespaces.
//
// Creating a workspace is pure: the manager validates the agent id, derives
// the paths and returns the directory-creation commands as data for the tool
// layer to run. Nothing here touches the filesystem.
package workspace

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
)

// ErrInvalidAgentID is returned when an agent id cannot be embedded in a path.
var ErrInvalidAgentID = errors.New("invalid agent id")

// DefaultBase is the workspace root used when none is configured.
const DefaultBase = "~/.bot/workspace"

// maxAgentIDLen keeps derived paths well inside common filesystem limits.
const maxAgentIDLen = 128

// Subdirectory names inside every workspace.
const (
	DirResearch = "research"
	DirOutput   = "output"
	DirLogs     = "logs"
)

// PlanFileName is the plan store file kept at the workspace base.
const PlanFileName = "plan.json"

// Workspace is the directory namespace owned by one agent.
type Workspace struct {
	AgentID      string `json:"agentId"`
	BasePath     string `json:"basePath"`
	ResearchPath string `json:"researchPath"`
	OutputPath   string `json:"outputPath"`
	LogsPath     string `json:"logsPath"`
}

// PlanPath is where the agent's plan.json lives.
func (w Workspace) PlanPath() string {
	return path.Join(w.BasePath, PlanFileName)
}

// SetupCommand is one directory-creation action for the tool layer.
type SetupCommand struct {
	ToolID string            `json:"toolId"`
	Args   map[string]string `json:"args"`
}

// Manager derives workspaces under a fixed base.
type Manager struct {
	base string
}

// NewManager returns a manager rooted at base (DefaultBase when empty).
func NewManager(base string) *Manager {
	if base == "" {
		base = DefaultBase
	}
	return &Manager{base: strings.TrimRight(base, "/")}
}

// Base returns the root directory.
func (m *Manager) Base() string {
	return m.base
}

// CreateWorkspace validates agentID and derives its workspace and setup commands.
func (m *Manager) CreateWorkspace(agentID string) (Workspace, []SetupCommand, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return Workspace{}, nil, err
	}

	base := m.base + "/" + agentID
	ws := Workspace{
		AgentID:      agentID,
		BasePath:     base,
		ResearchPath: base + "/" + DirResearch,
		OutputPath:   base + "/" + DirOutput,
		LogsPath:     base + "/" + DirLogs,
	}

	dirs := []string{ws.BasePath, ws.ResearchPath, ws.OutputPath, ws.LogsPath}
	cmds := make([]SetupCommand, 0, len(dirs))
	for _, dir := range dirs {
		cmds = append(cmds, SetupCommand{
			ToolID: "filesystem.create_directory",
			Args:   map[string]string{"path": dir},
		})
	}
	return ws, cmds, nil
}

// ValidateAgentID rejects ids that are empty, too long, dot names, or that
// contain traversal sequences, path separators or control characters.
func ValidateAgentID(agentID string) error {
	switch {
	case agentID == "":
		return fmt.Errorf("%w: empty", ErrInvalidAgentID)
	case len(agentID) > maxAgentIDLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidAgentID, maxAgentIDLen)
	case agentID == "." || agentID == "..":
		return fmt.Errorf("%w: %q is a relative directory name", ErrInvalidAgentID, agentID)
	case strings.Contains(agentID, ".."):
		return fmt.Errorf("%w: %q contains a traversal sequence", ErrInvalidAgentID, agentID)
	case strings.ContainsAny(agentID, `/\:`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidAgentID, agentID)
	}
	for _, r := range agentID {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidAgentID, agentID)
		}
	}
	return nil
}
