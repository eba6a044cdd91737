package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

const stepSystemPrompt = `You are an agent carrying out one step of a larger plan. Do the step as well as you can with what you know and reply with its output only. If the step cannot be done without data you do not have, start your reply with "ESCALATE:" followed by what is missing.`

const escalatePrefix = "ESCALATE:"

// LLMStepRunner answers each step with a single fast-tier model call and
// writes the answer to the workspace output directory. It stands in for a
// tool-executing loop.
type LLMStepRunner struct {
	models    llm.TierSelector
	maxTokens int
}

// NewLLMStepRunner returns a step runner bounded to maxTokens of output.
func NewLLMStepRunner(models llm.TierSelector, maxTokens int) *LLMStepRunner {
	if maxTokens <= 0 {
		maxTokens = plan.DefaultOutputTokenBudget
	}
	return &LLMStepRunner{models: models, maxTokens: maxTokens}
}

// RunStep implements StepRunner.
func (s *LLMStepRunner) RunStep(ctx context.Context, job Job) plan.StepResult {
	result := plan.StepResult{Step: job.Step}

	var b strings.Builder
	fmt.Fprintf(&b, "## Overall request\n%s\n\n## Step\n%s\n%s\n", job.Request, job.Step.Title, job.Step.Description)
	if job.Step.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\nExpected output: %s\n", job.Step.ExpectedOutput)
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: stepSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		ResponseFormat: llm.FormatText,
		MaxTokens:      s.maxTokens,
		Temperature:    llm.TemperatureDefault,
	}
	resp, err := s.models.Select(llm.TierFast).Complete(ctx, req)
	if err != nil {
		result.Output = err.Error()
		return result
	}

	content := strings.TrimSpace(resp.Content)
	if reason, ok := strings.CutPrefix(content, escalatePrefix); ok {
		result.Escalated = true
		result.EscalationReason = strings.TrimSpace(reason)
		result.Output = content
		return result
	}

	if err := writeOutput(job, content); err != nil {
		result.Output = err.Error()
		return result
	}
	result.Success = true
	result.Output = plan.TruncateOutput(content, s.maxTokens)
	return result
}

func writeOutput(job Job, content string) error {
	dir := filepath.Join(job.WorkspacePath, workspace.DirOutput)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, safeName(job.Step.ID)+".md")
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("write step output: %w", err)
	}
	return nil
}

// safeName keeps letters, digits, dash and underscore.
func safeName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if name == "" {
		return "step"
	}
	return name
}
