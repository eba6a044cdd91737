package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

// LoadCatalog reads a YAML tool catalog:
//
//	tools:
//	  - id: web.search
//	    description: Search the web
//	    required_params: [query]
func LoadCatalog(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Tools))
	for i, t := range f.Tools {
		if t.ID == "" {
			return nil, fmt.Errorf("tool %d has no id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate tool id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return f.Tools, nil
}

// DefaultCatalog is offered to the planner when no catalog file is configured.
func DefaultCatalog() []Tool {
	return []Tool{
		{ID: "filesystem.create_directory", Description: "Create a directory", RequiredParams: []string{"path"}},
		{ID: "filesystem.write_file", Description: "Write content to a file", RequiredParams: []string{"path", "content"}},
		{ID: "filesystem.read_file", Description: "Read a file", RequiredParams: []string{"path"}},
		{ID: "web.search", Description: "Search the web", RequiredParams: []string{"query"}},
		{ID: "web.fetch", Description: "Fetch a web page as text", RequiredParams: []string{"url"}},
		{ID: "shell.run", Description: "Run a shell command", RequiredParams: []string{"command"}},
	}
}
