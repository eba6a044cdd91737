// Package notify fans agent lifecycle events out to observers. Delivery is
// fire-and-forget: Notify never blocks the routing flow and backend failures
// are logged, never returned.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventAgentCreated    EventType = "agent_created"
	EventAgentModified   EventType = "agent_modified"
	EventAgentQueued     EventType = "agent_queued"
	EventAgentStopped    EventType = "agent_stopped"
	EventAgentContinuing EventType = "agent_continuing"
	EventRoutingFailed   EventType = "routing_failed"
	EventPlanRevised     EventType = "plan_revised"
	EventAgentCompleted  EventType = "agent_completed"
	EventAgentFailed     EventType = "agent_failed"
)

// Event is one lifecycle notification.
type Event struct {
	Time     time.Time         `json:"time"`
	Detail   map[string]string `json:"detail,omitempty"`
	Event    EventType         `json:"event"`
	AgentID  string            `json:"agentId"`
	DeviceID string            `json:"deviceId,omitempty"`
	Message  string            `json:"message"`
}

// Sink accepts events without blocking.
type Sink interface {
	Notify(e Event)
}

// Backend delivers events somewhere durable or remote.
type Backend interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(Event) {}

// Dispatcher is an asynchronous Sink that hands events to backends from a
// single worker goroutine. When its buffer is full new events are dropped.
type Dispatcher struct {
	events   chan Event
	done     chan struct{}
	logger   *logx.Logger
	backends []Backend
	timeout  time.Duration
	closeMu  sync.RWMutex
	closed   bool
}

// NewDispatcher starts a dispatcher with the given buffer size.
func NewDispatcher(bufferSize int, backends ...Backend) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d := &Dispatcher{
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logx.NewLogger("notify"),
		backends: backends,
		timeout:  5 * time.Second,
	}
	go d.run()
	return d
}

// Notify enqueues e. It never blocks.
func (d *Dispatcher) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.logger.Warn("Dropped %s for agent %s: dispatcher closed", e.Event, e.AgentID)
		return
	}

	select {
	case d.events <- e:
	default:
		d.logger.Warn("Dropped %s for agent %s: buffer full", e.Event, e.AgentID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.events {
		for _, b := range d.backends {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := b.Deliver(ctx, e); err != nil {
				d.logger.Warn("Backend %s failed to deliver %s for agent %s: %v", b.Name(), e.Event, e.AgentID, err)
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.closeMu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Memory is a Backend and Sink that keeps events in memory.
type Memory struct {
	events []Event
	mu     sync.Mutex
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Deliver(_ context.Context, e Event) error {
	m.Notify(e)
	return nil
}

func (m *Memory) Notify(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything received.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
