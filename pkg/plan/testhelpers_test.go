package plan

import (
	"context"
	"sync"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
)

// stubClient replies with a fixed content or error and counts calls.
type stubClient struct {
	name    string
	content string
	err     error

	mu      sync.Mutex
	calls   int
	lastReq llm.CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = in
	if s.err != nil {
		return llm.CompletionResponse{}, s.err
	}
	return llm.CompletionResponse{Content: s.content}, nil
}

func (s *stubClient) GetModelName() string { return s.name }

func (s *stubClient) prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.lastReq.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

// spySelector records every tier requested and serves one client for all.
type spySelector struct {
	client   llm.LLMClient
	selected []llm.Tier
}

func (s *spySelector) Select(tier llm.Tier) llm.LLMClient {
	s.selected = append(s.selected, tier)
	return s.client
}

// countingRecorder captures fallback counts.
type countingRecorder struct {
	metrics.Nop
	planFallbacks   map[string]int
	replanFallbacks map[string]int
	replans         int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{planFallbacks: map[string]int{}, replanFallbacks: map[string]int{}}
}

func (c *countingRecorder) IncPlanFallback(cause string)   { c.planFallbacks[cause]++ }
func (c *countingRecorder) IncReplanFallback(cause string) { c.replanFallbacks[cause]++ }
func (c *countingRecorder) IncReplan(string, bool, bool)   { c.replans++ }
