// Package registry tracks the agents that have a live executor in this
// process. It is the bridge between routing decisions and the goroutines
// actually running steps: signals, queued tasks, and cancellation all flow
// through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
)

// DefaultSignalBuffer is the per-agent signal channel capacity.
const DefaultSignalBuffer = 16

var (
	// ErrNotRegistered is returned when no live executor exists for an agent.
	ErrNotRegistered = errors.New("agent not registered")
	// ErrAlreadyRegistered is returned when an agent already has a live executor.
	ErrAlreadyRegistered = errors.New("agent already registered")
)

type liveAgent struct {
	ctx     context.Context
	cancel  context.CancelFunc
	signals chan string
	queue   []memory.QueueEntry
	epoch   uint64
	// reserved is set until the executor claims the slot.
	reserved bool
}

// Registry is the mutex-protected map of live agents. Create one per process
// and inject it; the zero value is not usable.
type Registry struct {
	agents     map[string]*liveAgent
	logger     *logx.Logger
	mu         sync.RWMutex
	nextEpoch  uint64
	bufferSize int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		agents:     make(map[string]*liveAgent),
		logger:     logx.NewLogger("registry"),
		bufferSize: DefaultSignalBuffer,
	}
}

// Handle is held by the executor running an agent. Its context is cancelled
// when the agent is aborted.
type Handle struct {
	ctx     context.Context
	reg     *Registry
	signals <-chan string
	AgentID string
	epoch   uint64
}

// Register records a live executor for agentID. The returned handle's context
// derives from parent and is cancelled by AbortAgent.
func (r *Registry) Register(parent context.Context, agentID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, agentID)
	}
	live := r.add(parent, agentID, false)
	r.logger.Info("Registered executor for agent %s", agentID)
	return live.handle(r, agentID), nil
}

// Reserve holds a live slot for an agent whose executor has not started yet.
// The agent counts as registered: signals and queued tasks are buffered until
// Claim hands the slot to the executor, and AbortAgent drops it.
func (r *Registry) Reserve(parent context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, agentID)
	}
	r.add(parent, agentID, true)
	r.logger.Info("Reserved slot for agent %s", agentID)
	return nil
}

// Claim takes over a slot made by Reserve. It fails with ErrNotRegistered
// when the reservation was aborted, and with ErrAlreadyRegistered when the
// slot already has an executor.
func (r *Registry) Claim(agentID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("claim: %w: %s", ErrNotRegistered, agentID)
	}
	if !live.reserved {
		return nil, fmt.Errorf("claim: %w: %s", ErrAlreadyRegistered, agentID)
	}
	live.reserved = false
	r.logger.Info("Claimed reserved slot for agent %s (%d signals, %d queued)", agentID, len(live.signals), len(live.queue))
	return live.handle(r, agentID), nil
}

func (r *Registry) add(parent context.Context, agentID string, reserved bool) *liveAgent {
	ctx, cancel := context.WithCancel(parent)
	r.nextEpoch++
	live := &liveAgent{
		ctx:      ctx,
		cancel:   cancel,
		signals:  make(chan string, r.bufferSize),
		epoch:    r.nextEpoch,
		reserved: reserved,
	}
	r.agents[agentID] = live
	return live
}

func (l *liveAgent) handle(r *Registry, agentID string) *Handle {
	return &Handle{ctx: l.ctx, reg: r, signals: l.signals, AgentID: agentID, epoch: l.epoch}
}

// IsAgentRegistered reports whether agentID has a live executor.
func (r *Registry) IsAgentRegistered(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Count returns the number of live agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// PushSignal delivers a mid-flight instruction. When the agent's buffer is
// full it waits until ctx is done.
func (r *Registry) PushSignal(ctx context.Context, agentID, text string) error {
	r.mu.RLock()
	live, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("push signal: %w: %s", ErrNotRegistered, agentID)
	}

	select {
	case live.signals <- text:
		return nil
	default:
	}

	r.logger.Warn("Signal buffer full for agent %s, waiting", agentID)
	select {
	case live.signals <- text:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("push signal to %s: %w", agentID, ctx.Err())
	}
}

// QueueTask appends a task to run after the agent's current one.
func (r *Registry) QueueTask(_ context.Context, agentID string, entry memory.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("queue task: %w: %s", ErrNotRegistered, agentID)
	}
	live.queue = append(live.queue, entry)
	r.logger.Info("Queued task %s for agent %s (depth %d)", entry.ID, agentID, len(live.queue))
	return nil
}

// AbortAgent cancels the agent's executor and removes it from the registry.
// Aborting an agent with no executor is not an error.
func (r *Registry) AbortAgent(_ context.Context, agentID string) error {
	r.mu.Lock()
	live, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("Abort requested for agent %s with no live executor", agentID)
		return nil
	}
	live.cancel()
	r.logger.Info("Aborted agent %s (%d queued tasks dropped)", agentID, len(live.queue))
	return nil
}

// Context is cancelled when the agent is aborted.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Signals delivers instructions pushed by MODIFY decisions.
func (h *Handle) Signals() <-chan string {
	return h.signals
}

// DrainSignals returns every pending signal without blocking.
func (h *Handle) DrainSignals() []string {
	var out []string
	for {
		select {
		case s := <-h.signals:
			out = append(out, s)
		default:
			return out
		}
	}
}

// NextTask pops the oldest queued task.
func (h *Handle) NextTask() (memory.QueueEntry, bool) {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	live, ok := h.reg.agents[h.AgentID]
	if !ok || live.epoch != h.epoch || len(live.queue) == 0 {
		return memory.QueueEntry{}, false
	}
	entry := live.queue[0]
	live.queue = live.queue[1:]
	return entry, true
}

// AcceptResult reports whether a step result produced by this handle may
// still mutate agent state. Results that arrive after the agent was stopped
// (or re-registered by a later execution) are rejected and only logged.
func (h *Handle) AcceptResult(summary string) bool {
	h.reg.mu.RLock()
	live, ok := h.reg.agents[h.AgentID]
	current := ok && live.epoch == h.epoch
	h.reg.mu.RUnlock()

	if current && h.ctx.Err() == nil {
		return true
	}
	h.reg.logger.Warn("Discarding late result from stopped agent %s: %s", h.AgentID, summary)
	return false
}

// Release unregisters the executor when it finishes. It is a no-op if the
// agent was aborted or another execution has since registered.
func (h *Handle) Release() {
	h.reg.mu.Lock()
	live, ok := h.reg.agents[h.AgentID]
	if ok && live.epoch == h.epoch {
		delete(h.reg.agents, h.AgentID)
	}
	h.reg.mu.Unlock()

	if ok && live.epoch == h.epoch {
		live.cancel()
		h.reg.logger.Info("Released executor for agent %s", h.AgentID)
	}
}
