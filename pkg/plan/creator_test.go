package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

var testCatalog = []Tool{
	{ID: "web.search", Description: "Search the web", RequiredParams: []string{"query"}},
	{ID: "filesystem.write_file", Description: "Write a file", RequiredParams: []string{"path", "content"}},
	{ID: "shell.run", Description: "Run a shell command"},
}

func TestCreatePlanParsesModelReply(t *testing.T) {
	client := &stubClient{name: "deep", content: "Sure! Here is the plan:\n" + `{
		"approach": "Research then write",
		"isSimpleTask": false,
		"steps": [
			{"id": "s1", "title": "Search", "description": "Find sources", "expectedOutput": "links", "toolIds": ["web.search"], "requiresExternalData": true, "dependsOn": []},
			{"id": "s2", "title": "Write", "description": "Write summary", "expectedOutput": "file", "toolIds": ["filesystem.write_file"], "requiresExternalData": false, "dependsOn": ["s1"]}
		]
	}` + "\nLet me know if that works."}
	selector := &spySelector{client: client}
	rec := newCountingRecorder()

	p := NewCreator(selector, rec, 5).CreatePlan(context.Background(), Intake{
		DeviceID: "dev-1",
		Skills:   []Skill{{Name: "research", Content: "Always cite sources."}},
	}, "Summarize recent work on Go generics", testCatalog)

	require.Len(t, p.Steps, 2)
	assert.False(t, p.IsSimpleTask)
	assert.Equal(t, []string{"s1"}, p.Steps[1].DependsOn)
	assert.NoError(t, p.Validate())
	assert.Equal(t, []llm.Tier{llm.TierDeep}, selector.selected)
	assert.Empty(t, rec.planFallbacks)

	prompt := client.prompt()
	assert.Contains(t, prompt, "Summarize recent work on Go generics")
	assert.Contains(t, prompt, "web.search: Search the web (requires query)")
	assert.Contains(t, prompt, "Always cite sources.")
}

func TestCreatePlanFallbackTotality(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		err       error
		recruited []string
		catalog   []Tool
		wantTools []string
		wantCause string
	}{
		{name: "prose", content: "I cannot help with that", catalog: testCatalog,
			wantTools: []string{"web.search", "filesystem.write_file", "shell.run"}, wantCause: FallbackParse},
		{name: "truncated json", content: `{"approach": "x", "steps": [`, recruited: []string{"shell.run"}, catalog: testCatalog,
			wantTools: []string{"shell.run"}, wantCause: FallbackParse},
		{name: "empty response", content: "", catalog: testCatalog[:1],
			wantTools: []string{"web.search"}, wantCause: FallbackParse},
		{name: "zero steps", content: `{"approach": "nothing", "isSimpleTask": false, "steps": []}`, recruited: []string{"a", "b"},
			wantTools: []string{"a", "b"}, wantCause: FallbackNoSteps},
		{name: "model error", err: errors.New("connection reset"), catalog: testCatalog,
			wantTools: []string{"web.search", "filesystem.write_file", "shell.run"}, wantCause: FallbackModelError},
		{name: "nothing to offer", content: "garbage",
			wantTools: []string{DirectResponseToolID}, wantCause: FallbackParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newCountingRecorder()
			creator := NewCreator(&spySelector{client: &stubClient{content: tt.content, err: tt.err}}, rec, 5)

			p := creator.CreatePlan(context.Background(), Intake{RecruitedToolIDs: tt.recruited}, "Book a table for two", tt.catalog)

			require.Len(t, p.Steps, 1)
			assert.True(t, p.IsSimpleTask)
			assert.Equal(t, "Book a table for two", p.Steps[0].Description)
			assert.Equal(t, tt.wantTools, p.Steps[0].ToolIDs)
			assert.NotEmpty(t, p.Steps[0].ToolIDs)
			assert.Equal(t, 1, rec.planFallbacks[tt.wantCause])
			assert.NoError(t, p.Validate())
		})
	}
}

func TestFallbackToolsCappedAtN(t *testing.T) {
	ids := fallbackToolIDs([]string{"a", "b", "a", " ", "c", "d"}, testCatalog, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCreatePlanRepairsInvariantViolations(t *testing.T) {
	client := &stubClient{content: `{
		"approach": "x",
		"isSimpleTask": false,
		"steps": [
			{"id": "a", "title": "A", "dependsOn": ["b"]},
			{"id": "a", "title": "A again", "dependsOn": ["a"]},
			{"id": "", "title": "C", "dependsOn": ["a", "ghost"]}
		]
	}`}
	p := NewCreator(&spySelector{client: client}, nil, 5).CreatePlan(context.Background(), Intake{}, "req", testCatalog)

	require.Len(t, p.Steps, 3)
	require.NoError(t, p.Validate())
	assert.Empty(t, p.Steps[0].DependsOn)
	assert.Equal(t, "a-2", p.Steps[1].ID)
	assert.Equal(t, []string{"a"}, p.Steps[1].DependsOn)
	assert.Equal(t, "step-3", p.Steps[2].ID)
	assert.Equal(t, []string{"a"}, p.Steps[2].DependsOn)
}
