package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/config"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { config.SetConfigForTesting(nil) })

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWorkspaceCommand(t *testing.T) {
	t.Setenv("DOTBOT_WORKSPACE_BASE", "/srv/agents")

	out, err := execute(t, "workspace", "agent-42")
	require.NoError(t, err)

	var got struct {
		Workspace     workspace.Workspace      `json:"workspace"`
		SetupCommands []workspace.SetupCommand `json:"setupCommands"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "/srv/agents/agent-42", got.Workspace.BasePath)
	assert.Len(t, got.SetupCommands, 4)
}

func TestWorkspaceCommandRejectsTraversal(t *testing.T) {
	_, err := execute(t, "workspace", "../etc")
	require.ErrorIs(t, err, workspace.ErrInvalidAgentID)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dotbot")
	assert.Contains(t, out, "go version")
}

func TestMessageText(t *testing.T) {
	text, err := messageText(strings.NewReader("ignored"), []string{"add", "Nara"})
	require.NoError(t, err)
	assert.Equal(t, "add Nara", text)

	text, err = messageText(strings.NewReader("  from a pipe\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from a pipe", text)

	_, err = messageText(strings.NewReader("   "), nil)
	require.Error(t, err)
}

func TestStatsRequiresPrometheusURL(t *testing.T) {
	_, err := execute(t, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Prometheus URL")
}

func TestBadConfigFailsBeforeRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing:\n  min_match_confidence: 7\n"), 0o644))

	_, err := execute(t, "--config", path, "workspace", "agent-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_match_confidence")
}

func TestLoadCatalog(t *testing.T) {
	tools, err := loadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, tools)

	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - id: calendar.add\n    description: Add an event\n"), 0o644))
	tools, err = loadCatalog(path)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "calendar.add", tools[0].ID)
}
