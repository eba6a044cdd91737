package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
)

const routerSystemPrompt = `You route a user's message to one of their agents. Each agent works on its own task in its own workspace.
Decide one of:
- "modify": the message changes or adds to what a running agent is doing
- "queue": the message is a follow-up task for an agent that should run after its current work
- "stop": the user wants an agent to stop
- "new": the message is unrelated to every agent, or you are unsure
Any decision other than "new" must name the targetAgentId exactly as listed.`

// RouterSchema constrains the router reply.
//
//nolint:gochecknoglobals // read-only schema literal
var RouterSchema = map[string]any{
	"type":     "object",
	"required": []string{"decision", "reasoning", "ackMessage"},
	"properties": map[string]any{
		"decision":      map[string]any{"type": "string", "enum": []string{"modify", "queue", "new", "stop"}},
		"targetAgentId": map[string]any{"type": "string"},
		"reasoning":     map[string]any{"type": "string"},
		"ackMessage":    map[string]any{"type": "string"},
	},
}

// Progress markers used when rendering candidate plans.
const (
	markCompleted = "✅"
	markCurrent   = "▶"
	markRemaining = "⬚"
)

// Router is the decision function. It never mutates state.
type Router struct {
	models   llm.TierSelector
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewRouter returns a router that asks the fast tier.
func NewRouter(models llm.TierSelector, recorder metrics.Recorder) *Router {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Router{models: models, recorder: recorder, logger: logx.NewLogger("router")}
}

// RouteToAgent decides where message goes. With no candidates it returns new
// without calling the model. Every other path validates the model's answer
// and falls back to new.
func (r *Router) RouteToAgent(ctx context.Context, message string, candidates []CandidateAgent) AgentRoutingResult {
	if len(candidates) == 0 {
		r.recorder.ObserveRoutingDecision(string(DecisionNew), false)
		return AgentRoutingResult{
			Decision:   DecisionNew,
			Reasoning:  "no candidates",
			AckMessage: "Starting a new task for this.",
		}
	}

	client := r.models.Select(llm.TierFast)
	req := llm.NewJSONRequest(routerSystemPrompt, renderRoutingPrompt(message, candidates), RouterSchema)

	var result AgentRoutingResult
	resp, err := client.Complete(ctx, req)
	if err == nil {
		err = llm.DecodeFirstObject(resp.Content, &result)
	}
	if err != nil {
		r.logger.Warn("Routing reply unusable, defaulting to new: %v", err)
		r.recorder.ObserveRoutingDecision(string(DecisionNew), true)
		return AgentRoutingResult{
			Decision:   DecisionNew,
			Reasoning:  "Could not interpret the routing decision; starting a new task.",
			AckMessage: "Starting a new task for this.",
		}
	}

	result, coerced := validateResult(result, candidates)
	if coerced {
		r.logger.Warn("Routing decision coerced to new: %s", result.Reasoning)
	}
	r.recorder.ObserveRoutingDecision(string(result.Decision), coerced)
	return result
}

// validateResult applies the decision invariants in order, each falling back
// to new with a note appended to the reasoning.
func validateResult(result AgentRoutingResult, candidates []CandidateAgent) (AgentRoutingResult, bool) {
	coerced := false
	toNew := func(note string) {
		result.Decision = DecisionNew
		result.TargetAgentID = ""
		result.Reasoning = strings.TrimSpace(result.Reasoning + " " + note)
		coerced = true
	}

	result.Decision = Decision(strings.ToLower(strings.TrimSpace(string(result.Decision))))
	result.TargetAgentID = strings.TrimSpace(result.TargetAgentID)
	result.WorkspacePath = ""

	if !modelDecisions[result.Decision] {
		toNew(fmt.Sprintf("[unknown decision %q; starting new]", result.Decision))
	}
	if result.Decision != DecisionNew && result.TargetAgentID == "" {
		toNew(fmt.Sprintf("[%s requires a target agent; starting new]", result.Decision))
	}
	if result.TargetAgentID != "" {
		if _, ok := findCandidate(candidates, result.TargetAgentID); !ok {
			toNew(fmt.Sprintf("[target %s is not a known agent; starting new]", result.TargetAgentID))
		}
	}
	if result.Decision == DecisionNew {
		result.TargetAgentID = ""
	}
	if coerced || strings.TrimSpace(result.AckMessage) == "" {
		result.AckMessage = defaultAck(result.Decision)
	}
	return result, coerced
}

func defaultAck(d Decision) string {
	switch d {
	case DecisionModify:
		return "Got it, passing that along."
	case DecisionQueue:
		return "Got it, I'll do that next."
	case DecisionStop:
		return "Stopping that task."
	default:
		return "Starting a new task for this."
	}
}

func renderRoutingPrompt(message string, candidates []CandidateAgent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## New message\n%s\n\n## Agents\n", message)
	for i := range candidates {
		c := &candidates[i]
		fmt.Fprintf(&b, "\n### Agent %s\nStatus: %s\nCreated: %s\n", c.AgentID, c.Status, c.CreatedAt.UTC().Format("2006-01-02 15:04"))
		if len(c.RestatedRequests) > 0 {
			b.WriteString("Requests:\n")
			for _, req := range c.RestatedRequests {
				fmt.Fprintf(&b, "- %s\n", req)
			}
		}
		if len(c.Steps) > 0 {
			b.WriteString("Plan:\n")
			for _, s := range c.Steps {
				fmt.Fprintf(&b, "%s %s\n", stepMarker(s.Status), s.Title)
			}
		}
	}
	b.WriteString("\nReturn JSON with decision, targetAgentId, reasoning and ackMessage.")
	return b.String()
}

func stepMarker(s StepStatus) string {
	switch s {
	case StepCompleted:
		return markCompleted
	case StepCurrent:
		return markCurrent
	default:
		return markRemaining
	}
}
