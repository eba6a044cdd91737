package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
)

const (
	// DefaultCritiqueInterval is the number of completed steps between critique checkpoints.
	DefaultCritiqueInterval = 3
	// DefaultDeepRemainingSteps is the remaining-step count at which replanning
	// moves to the deep tier.
	DefaultDeepRemainingSteps = 4
	// DefaultOutputTokenBudget bounds the step output quoted in the replan prompt.
	DefaultOutputTokenBudget = 1500
)

// Replan fallback causes reported to metrics.
const (
	ReplanFallbackModelError = "model_error"
	ReplanFallbackParse      = "parse"
)

const replannerSystemPrompt = `You are reviewing an agent's plan while it runs. A step just finished. Decide whether the steps that have not run yet should change. Completed steps are final and must not be repeated. If the plan is still right, answer with changed=false.`

const critiqueDirective = `This is a critique checkpoint. Look hard for gaps, redundant steps, bad ordering, or a better overall approach, and prefer changed=true when any of these would improve the outcome.`

// ReplanSchema constrains the re-planner reply.
//
//nolint:gochecknoglobals // read-only schema literal
var ReplanSchema = map[string]any{
	"type":     "object",
	"required": []string{"changed", "reasoning", "remainingSteps"},
	"properties": map[string]any{
		"changed":        map[string]any{"type": "boolean"},
		"reasoning":      map[string]any{"type": "string"},
		"remainingSteps": map[string]any{"type": "array", "items": stepSchema},
	},
}

// WorkspaceSnapshot is what the re-planner is shown of the agent's workspace.
type WorkspaceSnapshot struct {
	Path  string
	Files []string
}

// ReplanOptions carries the context gathered since the last replan.
type ReplanOptions struct {
	// Signals are user instructions received mid-flight, folded in verbatim.
	Signals            []string
	Catalog            []Tool
	CompletedStepCount int
	// CompletedStepIDs is the executed prefix. Steps with these ids are never
	// reintroduced.
	CompletedStepIDs []string
}

// ReplannerConfig tunes the re-planner. Zero values take the defaults.
type ReplannerConfig struct {
	CritiqueInterval   int
	DeepRemainingSteps int
	OutputTokenBudget  int
}

// Replanner revises the unexecuted tail of a plan after each step.
type Replanner struct {
	models   llm.TierSelector
	recorder metrics.Recorder
	logger   *logx.Logger
	cfg      ReplannerConfig
}

// NewReplanner returns a re-planner that picks its model through models.
func NewReplanner(models llm.TierSelector, recorder metrics.Recorder, cfg ReplannerConfig) *Replanner {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if cfg.CritiqueInterval <= 0 {
		cfg.CritiqueInterval = DefaultCritiqueInterval
	}
	if cfg.DeepRemainingSteps <= 0 {
		cfg.DeepRemainingSteps = DefaultDeepRemainingSteps
	}
	if cfg.OutputTokenBudget <= 0 {
		cfg.OutputTokenBudget = DefaultOutputTokenBudget
	}
	return &Replanner{
		models:   models,
		recorder: recorder,
		logger:   logx.NewLogger("replanner"),
		cfg:      cfg,
	}
}

// IsCritiqueCheckpoint reports whether the replan after the n-th completed
// step is a critique checkpoint: after step 1 and every third step after
// that (1, 4, 7, 10, ...).
func IsCritiqueCheckpoint(n int) bool {
	return isCheckpoint(n, DefaultCritiqueInterval)
}

func isCheckpoint(n, interval int) bool {
	if n < 1 {
		return false
	}
	return (n-1)%interval == 0
}

// SelectTier picks the deep tier when the plan is at elevated risk: a
// checkpoint, a long tail, or a step that failed or escalated.
func SelectTier(checkpoint bool, remaining int, completed StepResult, deepRemaining int) llm.Tier {
	if checkpoint || remaining >= deepRemaining || completed.Escalated || !completed.Success {
		return llm.TierDeep
	}
	return llm.TierFast
}

// Replan decides whether the remaining steps should change. It never returns
// an error: an unusable reply keeps the remaining steps as they are.
func (r *Replanner) Replan(ctx context.Context, original StepPlan, completed StepResult, remaining []Step, snapshot WorkspaceSnapshot, opts ReplanOptions) ReplanResult {
	checkpoint := isCheckpoint(opts.CompletedStepCount, r.cfg.CritiqueInterval)
	tier := SelectTier(checkpoint, len(remaining), completed, r.cfg.DeepRemainingSteps)
	client := r.models.Select(tier)

	r.logger.Debug("Replanning after step %s (count=%d checkpoint=%t tier=%s remaining=%d signals=%d)",
		completed.Step.ID, opts.CompletedStepCount, checkpoint, tier, len(remaining), len(opts.Signals))

	prompt := r.buildPrompt(original, completed, remaining, snapshot, opts, checkpoint)
	resp, err := client.Complete(ctx, llm.NewJSONRequest(replannerSystemPrompt, prompt, ReplanSchema))
	if err != nil {
		return r.keep(remaining, ReplanFallbackModelError, err)
	}

	var reply ReplanResult
	if err := llm.DecodeFirstObject(resp.Content, &reply); err != nil {
		return r.keep(remaining, ReplanFallbackParse, err)
	}

	if !reply.Changed {
		r.recorder.IncReplan(string(tier), checkpoint, false)
		return ReplanResult{
			Changed:        false,
			Reasoning:      reply.Reasoning,
			RemainingSteps: cloneSteps(remaining),
		}
	}

	known := make(map[string]bool, len(opts.CompletedStepIDs)+1)
	for _, id := range opts.CompletedStepIDs {
		known[id] = true
	}
	if completed.Success && completed.Step.ID != "" {
		known[completed.Step.ID] = true
	}

	steps := make([]Step, 0, len(reply.RemainingSteps))
	for i := range reply.RemainingSteps {
		if known[strings.TrimSpace(reply.RemainingSteps[i].ID)] {
			r.logger.Warn("Dropped completed step %s from revised plan", reply.RemainingSteps[i].ID)
			continue
		}
		steps = append(steps, reply.RemainingSteps[i])
	}
	for _, note := range normalizeSteps(steps, known) {
		r.logger.Warn("Repaired revised plan from %s: %s", client.GetModelName(), note)
	}

	r.recorder.IncReplan(string(tier), checkpoint, true)
	r.logger.Info("Plan revised after step %s: %d remaining (%s)", completed.Step.ID, len(steps), reply.Reasoning)
	return ReplanResult{Changed: true, Reasoning: reply.Reasoning, RemainingSteps: steps}
}

func (r *Replanner) keep(remaining []Step, cause string, err error) ReplanResult {
	r.logger.Warn("Replan fallback (%s), keeping %d remaining steps: %v", cause, len(remaining), err)
	r.recorder.IncReplanFallback(cause)
	return ReplanResult{
		Changed:        false,
		Reasoning:      fmt.Sprintf("Re-planner response was unusable (%s); continuing with the current plan.", cause),
		RemainingSteps: cloneSteps(remaining),
	}
}

func (r *Replanner) buildPrompt(original StepPlan, completed StepResult, remaining []Step, snapshot WorkspaceSnapshot, opts ReplanOptions, checkpoint bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Original approach\n%s\n\n", original.Approach)
	if original.IsSimpleTask {
		b.WriteString("Planned as a simple task; keep the plan short.\n\n")
	}
	b.WriteString("## Original plan\n")
	for i := range original.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, original.Steps[i].ID, original.Steps[i].Title)
	}

	outcome := "succeeded"
	if !completed.Success {
		outcome = "FAILED"
	}
	fmt.Fprintf(&b, "\n## Step just completed (%s): [%s] %s\n", outcome, completed.Step.ID, completed.Step.Title)
	if completed.Escalated {
		fmt.Fprintf(&b, "The step was escalated: %s\n", completed.EscalationReason)
	}
	fmt.Fprintf(&b, "Output:\n%s\n", TruncateOutput(completed.Output, r.cfg.OutputTokenBudget))
	fmt.Fprintf(&b, "\nSteps completed so far: %d\n", opts.CompletedStepCount)

	b.WriteString("\n## Remaining steps\n")
	if data, err := json.MarshalIndent(remaining, "", "  "); err == nil {
		b.Write(data)
	}
	b.WriteString("\n")

	if snapshot.Path != "" || len(snapshot.Files) > 0 {
		fmt.Fprintf(&b, "\n## Workspace %s\n", snapshot.Path)
		for _, f := range snapshot.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(opts.Signals) > 0 {
		b.WriteString("\n## User instructions received during execution\nThese MUST be incorporated into the remaining steps:\n")
		for _, s := range opts.Signals {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	b.WriteString("\n## Available tools\n")
	b.WriteString(condenseCatalog(opts.Catalog))

	if checkpoint {
		fmt.Fprintf(&b, "\n%s\n", critiqueDirective)
	}
	b.WriteString("\nReturn JSON. When changed=true, remainingSteps replaces every step that has not run yet.")
	return b.String()
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
