package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/registry"
)

// countingClient returns a canned reply and counts calls.
type countingClient struct {
	content string
	err     error

	mu     sync.Mutex
	calls  int
	prompt string
}

func (c *countingClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	for _, m := range in.Messages {
		if m.Role == llm.RoleUser {
			c.prompt = m.Content
		}
	}
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	return llm.CompletionResponse{Content: c.content}, nil
}

func (c *countingClient) GetModelName() string { return "counting" }

func (c *countingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type singleTier struct{ client llm.LLMClient }

func (s singleTier) Select(llm.Tier) llm.LLMClient { return s.client }

// fakeLive is an in-memory LiveAgents. Like the real registry, it refuses
// signals and tasks for agents that are not registered.
type fakeLive struct {
	mu         sync.Mutex
	registered map[string]bool
	signals    map[string][]string
	queued     map[string][]memory.QueueEntry
	aborted    []string
	failWith   error
}

func newFakeLive(registered ...string) *fakeLive {
	f := &fakeLive{
		registered: map[string]bool{},
		signals:    map[string][]string{},
		queued:     map[string][]memory.QueueEntry{},
	}
	for _, id := range registered {
		f.registered[id] = true
	}
	return f
}

func (f *fakeLive) IsAgentRegistered(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[id]
}

func (f *fakeLive) PushSignal(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if !f.registered[id] {
		return fmt.Errorf("push signal: %w: %s", registry.ErrNotRegistered, id)
	}
	f.signals[id] = append(f.signals[id], text)
	return nil
}

func (f *fakeLive) QueueTask(_ context.Context, id string, e memory.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if !f.registered[id] {
		return fmt.Errorf("queue task: %w: %s", registry.ErrNotRegistered, id)
	}
	f.queued[id] = append(f.queued[id], e)
	return nil
}

func (f *fakeLive) AbortAgent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.aborted = append(f.aborted, id)
	delete(f.registered, id)
	return nil
}

// fakeStore records best-effort writes.
type fakeStore struct {
	mu       sync.Mutex
	requests map[string][]string
	queue    map[string][]memory.QueueEntry
	statuses map[string]memory.AgentStatus
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: map[string][]string{},
		queue:    map[string][]memory.QueueEntry{},
		statuses: map[string]memory.AgentStatus{},
	}
}

func (f *fakeStore) AppendRequest(_ context.Context, id, req string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.requests[id] = append(f.requests[id], req)
	return nil
}

func (f *fakeStore) AppendQueueEntry(_ context.Context, id string, e memory.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.queue[id] = append(f.queue[id], e)
	return nil
}

func (f *fakeStore) UpdateAgentStatus(_ context.Context, id string, s memory.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.statuses[id] = s
	return nil
}

// fakeModels serves mental models from a map.
type fakeModels map[string]*memory.MentalModel

func (f fakeModels) GetModel(_ context.Context, slug string) (*memory.MentalModel, error) {
	m, ok := f[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrModelNotFound, slug)
	}
	return m, nil
}

// fakePlans serves stored plans by workspace path. A path in hang blocks
// until the context ends.
type fakePlans struct {
	plans map[string]*plan.StoredPlan
	hang  map[string]bool
}

func (f fakePlans) ReadPlan(ctx context.Context, path string) (*plan.StoredPlan, error) {
	if f.hang[path] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p, ok := f.plans[path]
	if !ok {
		return nil, plan.ErrPlanNotFound
	}
	return p, nil
}
