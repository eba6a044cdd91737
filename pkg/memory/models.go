package memory

import (
	"errors"
	"time"
)

// ErrModelNotFound is returned by GetModel for an unknown slug.
var ErrModelNotFound = errors.New("mental model not found")

// ErrAgentNotFound is returned when an update names an unknown agent.
var ErrAgentNotFound = errors.New("agent not found")

// AgentStatus is the persisted lifecycle state of an agent.
type AgentStatus string

const (
	StatusQueued         AgentStatus = "queued"
	StatusRunning        AgentStatus = "running"
	StatusCompleted      AgentStatus = "completed"
	StatusFailed         AgentStatus = "failed"
	StatusStopped        AgentStatus = "stopped"
	StatusBlocked        AgentStatus = "blocked"
	StatusWaitingOnHuman AgentStatus = "waiting_on_human"
)

// ValidStatuses returns every known agent status.
func ValidStatuses() []AgentStatus {
	return []AgentStatus{
		StatusQueued, StatusRunning, StatusCompleted, StatusFailed,
		StatusStopped, StatusBlocked, StatusWaitingOnHuman,
	}
}

// IsValid reports whether s is a known status.
func (s AgentStatus) IsValid() bool {
	for _, v := range ValidStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// ImpliesLiveExecutor reports whether a record in this status claims that an
// executor is working on the agent right now.
func (s AgentStatus) ImpliesLiveExecutor() bool {
	return s == StatusRunning || s == StatusQueued
}

// IsHold reports whether the agent is paused waiting on something external.
// Held agents keep their executor slot and are never redirected.
func (s AgentStatus) IsHold() bool {
	return s == StatusBlocked || s == StatusWaitingOnHuman
}

// AgentAssignment is an agent attached to a mental model.
type AgentAssignment struct {
	CreatedAt     time.Time   `json:"createdAt"`
	AgentID       string      `json:"agentId"`
	DeviceID      string      `json:"deviceId"`
	Status        AgentStatus `json:"status"`
	Prompt        string      `json:"prompt"`
	WorkspacePath string      `json:"workspacePath"`
	// Requests holds follow-up instructions relayed to the agent, oldest first.
	Requests []string `json:"requests,omitempty"`
}

// RestatedRequests is the original prompt followed by every relayed request.
func (a *AgentAssignment) RestatedRequests() []string {
	out := make([]string, 0, len(a.Requests)+1)
	if a.Prompt != "" {
		out = append(out, a.Prompt)
	}
	return append(out, a.Requests...)
}

// MentalModel is a long-lived memory entity (a topic, project, or person)
// with the agents that have worked on it.
type MentalModel struct {
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Slug        string            `json:"slug"`
	DeviceID    string            `json:"deviceId"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Agents      []AgentAssignment `json:"agents"`
}

// Match is a mental model judged relevant to a message.
type Match struct {
	ModelSlug  string  `json:"modelSlug"`
	Confidence float64 `json:"confidence"`
}

// QueueEntry is a request waiting behind an agent's current task.
type QueueEntry struct {
	AddedAt time.Time `json:"addedAt"`
	ID      string    `json:"id"`
	Request string    `json:"request"`
}
