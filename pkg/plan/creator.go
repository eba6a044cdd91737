package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
)

// DirectResponseToolID is given to a fallback step when neither the recruiter
// nor the catalog offers a tool, so that toolIds is never empty.
const DirectResponseToolID = "llm.respond"

// Plan fallback causes reported to metrics.
const (
	FallbackModelError = "model_error"
	FallbackParse      = "parse"
	FallbackNoSteps    = "no_steps"
)

const plannerSystemPrompt = `You are the planning stage of a personal agent. Break the user's request into a short ordered list of concrete steps that can be executed with the available tools. Use as few steps as the task genuinely needs. A step may only depend on steps listed before it.`

// PlanSchema constrains the planner reply.
//
//nolint:gochecknoglobals // read-only schema literal
var PlanSchema = map[string]any{
	"type":     "object",
	"required": []string{"approach", "isSimpleTask", "steps"},
	"properties": map[string]any{
		"approach":     map[string]any{"type": "string"},
		"isSimpleTask": map[string]any{"type": "boolean"},
		"steps": map[string]any{
			"type":  "array",
			"items": stepSchema,
		},
	},
}

//nolint:gochecknoglobals // read-only schema literal
var stepSchema = map[string]any{
	"type":     "object",
	"required": []string{"id", "title", "description", "expectedOutput", "toolIds", "requiresExternalData", "dependsOn"},
	"properties": map[string]any{
		"id":                   map[string]any{"type": "string"},
		"title":                map[string]any{"type": "string"},
		"description":          map[string]any{"type": "string"},
		"expectedOutput":       map[string]any{"type": "string"},
		"toolIds":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"requiresExternalData": map[string]any{"type": "boolean"},
		"dependsOn":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

// Creator turns a restated request into a StepPlan. It always returns a
// usable plan: any unusable model reply becomes a single-step fallback.
type Creator struct {
	models        llm.TierSelector
	recorder      metrics.Recorder
	logger        *logx.Logger
	fallbackTools int
}

// NewCreator returns a plan creator. fallbackTools bounds the toolIds given
// to a fallback step.
func NewCreator(models llm.TierSelector, recorder metrics.Recorder, fallbackTools int) *Creator {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if fallbackTools <= 0 {
		fallbackTools = 5
	}
	return &Creator{
		models:        models,
		recorder:      recorder,
		logger:        logx.NewLogger("planner"),
		fallbackTools: fallbackTools,
	}
}

// CreatePlan asks the deep tier for a plan. It never returns an error.
func (c *Creator) CreatePlan(ctx context.Context, intake Intake, restated string, catalog []Tool) StepPlan {
	client := c.models.Select(llm.TierDeep)
	req := llm.NewJSONRequest(plannerSystemPrompt, buildPlanPrompt(intake, restated, catalog), PlanSchema)

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return c.fallback(intake, restated, catalog, FallbackModelError, err)
	}

	var p StepPlan
	if err := llm.DecodeFirstObject(resp.Content, &p); err != nil {
		return c.fallback(intake, restated, catalog, FallbackParse, err)
	}
	if len(p.Steps) == 0 {
		return c.fallback(intake, restated, catalog, FallbackNoSteps, nil)
	}

	for _, note := range normalizeSteps(p.Steps, nil) {
		c.logger.Warn("Repaired plan from %s: %s", client.GetModelName(), note)
	}
	c.logger.Info("Created %d-step plan (simple=%t) for device %s", len(p.Steps), p.IsSimpleTask, intake.DeviceID)
	return p
}

func (c *Creator) fallback(intake Intake, restated string, catalog []Tool, cause string, err error) StepPlan {
	if err != nil {
		c.logger.Warn("Plan fallback (%s) for device %s: %v", cause, intake.DeviceID, err)
	} else {
		c.logger.Warn("Plan fallback (%s) for device %s", cause, intake.DeviceID)
	}
	c.recorder.IncPlanFallback(cause)
	return FallbackPlan(restated, fallbackToolIDs(intake.RecruitedToolIDs, catalog, c.fallbackTools))
}

// FallbackPlan is the single-step plan whose one step is the request itself.
func FallbackPlan(restated string, toolIDs []string) StepPlan {
	if len(toolIDs) == 0 {
		toolIDs = []string{DirectResponseToolID}
	}
	return StepPlan{
		Approach:     "Handle the request directly in a single step.",
		IsSimpleTask: true,
		Steps: []Step{{
			ID:             "step-1",
			Title:          truncateTitle(restated),
			Description:    restated,
			ExpectedOutput: "The completed request.",
			ToolIDs:        toolIDs,
			DependsOn:      []string{},
		}},
	}
}

// fallbackToolIDs prefers recruiter suggestions and falls back to the head of
// the catalog.
func fallbackToolIDs(recruited []string, catalog []Tool, n int) []string {
	ids := make([]string, 0, n)
	seen := make(map[string]bool, n)
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] || len(ids) >= n {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range recruited {
		add(id)
	}
	if len(ids) == 0 {
		for i := range catalog {
			add(catalog[i].ID)
		}
	}
	return ids
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	runes := []rune(s)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	if s == "" {
		return "Handle request"
	}
	return s
}

func buildPlanPrompt(intake Intake, restated string, catalog []Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Request\n%s\n\n", restated)

	if len(intake.RecruitedToolIDs) > 0 {
		fmt.Fprintf(&b, "## Suggested tools\n%s\n\n", strings.Join(intake.RecruitedToolIDs, ", "))
	}

	b.WriteString("## Available tools\n")
	b.WriteString(condenseCatalog(catalog))
	b.WriteString("\n")

	for _, skill := range intake.Skills {
		fmt.Fprintf(&b, "## Known workflow: %s\n%s\n\n", skill.Name, skill.Content)
	}

	b.WriteString("Return the plan as JSON. Give every step a short unique id such as \"step-1\".")
	return b.String()
}

// condenseCatalog renders one line per tool.
func condenseCatalog(catalog []Tool) string {
	if len(catalog) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for i := range catalog {
		t := &catalog[i]
		fmt.Fprintf(&b, "- %s: %s", t.ID, t.Description)
		if len(t.RequiredParams) > 0 {
			fmt.Fprintf(&b, " (requires %s)", strings.Join(t.RequiredParams, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
