package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - id: web.search
    description: Search the web
    required_params: [query]
  - id: shell.run
    description: Run a command
`), 0o644))

	tools, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, []string{"query"}, tools[0].RequiredParams)
	assert.Equal(t, "shell.run", tools[1].ID)
}

func TestLoadCatalogRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - id: a\n  - id: a\n"), 0o644))
	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "duplicate")
}
