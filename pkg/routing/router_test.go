package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
)

func threeCandidates() []CandidateAgent {
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return []CandidateAgent{
		{AgentID: "agent-trip", Status: memory.StatusRunning, WorkspacePath: "/ws/agent-trip", CreatedAt: created,
			RestatedRequests: []string{"Plan a Kyoto itinerary"},
			Steps: []CandidateStep{
				{ID: "s1", Title: "Research temples", Status: StepCompleted},
				{ID: "s2", Title: "Draft day plan", Status: StepCurrent},
				{ID: "s3", Title: "Book trains", Status: StepRemaining},
			}},
		{AgentID: "agent-taxes", Status: memory.StatusBlocked, WorkspacePath: "/ws/agent-taxes", CreatedAt: created,
			RestatedRequests: []string{"Prepare tax return"}},
		{AgentID: "agent-essay", Status: memory.StatusCompleted, WorkspacePath: "/ws/agent-essay", CreatedAt: created,
			RestatedRequests: []string{"Write an essay on Go"}},
	}
}

func TestRouteEmptyCandidatesSkipsModel(t *testing.T) {
	client := &countingClient{content: `{"decision": "modify", "targetAgentId": "x"}`}
	r := NewRouter(singleTier{client}, nil)

	result := r.RouteToAgent(context.Background(), "book me a flight", nil)

	assert.Equal(t, DecisionNew, result.Decision)
	assert.Empty(t, result.TargetAgentID)
	assert.Equal(t, "no candidates", result.Reasoning)
	assert.Equal(t, 0, client.Calls())

	again := r.RouteToAgent(context.Background(), "book me a flight", []CandidateAgent{})
	assert.Equal(t, result, again)
	assert.Equal(t, 0, client.Calls())
}

func TestRouteRendersProgressMarkers(t *testing.T) {
	client := &countingClient{content: `{"decision": "new", "reasoning": "unrelated", "ackMessage": "On it."}`}
	NewRouter(singleTier{client}, nil).RouteToAgent(context.Background(), "hello", threeCandidates())

	require.Equal(t, 1, client.Calls())
	assert.Contains(t, client.prompt, "✅ Research temples")
	assert.Contains(t, client.prompt, "▶ Draft day plan")
	assert.Contains(t, client.prompt, "⬚ Book trains")
	assert.Contains(t, client.prompt, "Status: blocked")
	assert.Contains(t, client.prompt, "- Write an essay on Go")
}

func TestRouteValidation(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		err        error
		want       Decision
		wantTarget string
		wantNote   string
	}{
		{name: "valid modify", reply: `{"decision": "modify", "targetAgentId": "agent-trip", "reasoning": "adds to trip", "ackMessage": "Added."}`,
			want: DecisionModify, wantTarget: "agent-trip"},
		{name: "case and whitespace", reply: `{"decision": " Queue ", "targetAgentId": "agent-essay", "reasoning": "follow-up"}`,
			want: DecisionQueue, wantTarget: "agent-essay"},
		{name: "unknown decision", reply: `{"decision": "merge", "targetAgentId": "agent-trip", "reasoning": "?"}`,
			want: DecisionNew, wantNote: "unknown decision"},
		{name: "continue is not a model decision", reply: `{"decision": "continue", "targetAgentId": "agent-essay"}`,
			want: DecisionNew, wantNote: "unknown decision"},
		{name: "missing target", reply: `{"decision": "stop", "reasoning": "user said stop"}`,
			want: DecisionNew, wantNote: "requires a target"},
		{name: "ghost target", reply: `{"decision": "modify", "targetAgentId": "ghost_123", "reasoning": "looks related"}`,
			want: DecisionNew, wantNote: "ghost_123 is not a known agent"},
		{name: "new with stray target", reply: `{"decision": "new", "targetAgentId": "agent-trip", "reasoning": "fresh"}`,
			want: DecisionNew},
		{name: "prose", reply: "I think this should go to the trip agent.", want: DecisionNew},
		{name: "model error", err: errors.New("timeout"), want: DecisionNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := threeCandidates()
			r := NewRouter(singleTier{&countingClient{content: tt.reply, err: tt.err}}, nil)

			result := r.RouteToAgent(context.Background(), "msg", candidates)

			assert.Equal(t, tt.want, result.Decision)
			assert.Equal(t, tt.wantTarget, result.TargetAgentID)
			assert.NotEmpty(t, result.AckMessage)
			assert.NotEmpty(t, result.Reasoning)
			if tt.wantNote != "" {
				assert.Contains(t, result.Reasoning, tt.wantNote)
			}
			assertTargetValid(t, result, candidates)
		})
	}
}

// assertTargetValid checks that a result either starts new with no target or
// names one of the candidates.
func assertTargetValid(t *testing.T, result AgentRoutingResult, candidates []CandidateAgent) {
	t.Helper()
	if result.Decision == DecisionNew {
		assert.Empty(t, result.TargetAgentID)
		return
	}
	_, ok := findCandidate(candidates, result.TargetAgentID)
	assert.True(t, ok, "target %q is not a candidate", result.TargetAgentID)
}

func TestRouteTargetValidityAcrossReplies(t *testing.T) {
	replies := []string{
		`{"decision": "modify", "targetAgentId": "agent-taxes"}`,
		`{"decision": "queue", "targetAgentId": ""}`,
		`{"decision": "stop", "targetAgentId": "AGENT-TRIP"}`,
		`{"decision": 42}`,
		`{"targetAgentId": "agent-essay"}`,
		`{}`,
		`{"decision": "stop", "targetAgentId": "agent-essay", "extra": {"nested": "}"}}`,
	}
	candidates := threeCandidates()
	for _, reply := range replies {
		result := NewRouter(singleTier{&countingClient{content: reply}}, nil).RouteToAgent(context.Background(), "msg", candidates)
		assertTargetValid(t, result, candidates)
	}
}

func TestScenarioGhostTargetCoercedToNew(t *testing.T) {
	client := &countingClient{content: `{"decision": "modify", "targetAgentId": "ghost_123", "reasoning": "matches", "ackMessage": "Updating."}`}
	result := NewRouter(singleTier{client}, nil).RouteToAgent(context.Background(), "also add Nara", threeCandidates())

	assert.Equal(t, DecisionNew, result.Decision)
	assert.Empty(t, result.TargetAgentID)
	assert.Contains(t, result.Reasoning, "matches")
	assert.Contains(t, result.Reasoning, "ghost_123")
}
