// Package routing decides where each incoming message goes (a new agent, or
// an existing agent via modify, queue, stop, or continue) and applies that
// decision under a per-device lock.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
)

// ErrExecution marks a routing decision that was made but could not be
// delivered to its target executor.
var ErrExecution = errors.New("routing execution failed")

// Decision is the routing verdict for a message.
type Decision string

const (
	DecisionModify   Decision = "modify"
	DecisionQueue    Decision = "queue"
	DecisionNew      Decision = "new"
	DecisionStop     Decision = "stop"
	DecisionContinue Decision = "continue"
)

// modelDecisions are the verdicts the router accepts from the model.
// Continue is only ever produced by the executor.
//
//nolint:gochecknoglobals // read-only lookup table
var modelDecisions = map[Decision]bool{
	DecisionModify: true,
	DecisionQueue:  true,
	DecisionNew:    true,
	DecisionStop:   true,
}

// AgentRoutingResult is the router's validated decision, later completed by
// the executor.
type AgentRoutingResult struct {
	Decision      Decision `json:"decision"`
	TargetAgentID string   `json:"targetAgentId,omitempty"`
	Reasoning     string   `json:"reasoning"`
	AckMessage    string   `json:"ackMessage"`
	// WorkspacePath is set for continue decisions.
	WorkspacePath string `json:"workspacePath,omitempty"`
}

// StepStatus is a step's position relative to the agent's progress.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepCurrent   StepStatus = "current"
	StepRemaining StepStatus = "remaining"
)

// CandidateStep is one step of a candidate's plan, as shown to the router.
type CandidateStep struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status StepStatus `json:"status"`
}

// CandidateAgent is the routing-time view of an existing agent.
type CandidateAgent struct {
	CreatedAt        time.Time          `json:"createdAt"`
	AgentID          string             `json:"agentId"`
	Status           memory.AgentStatus `json:"status"`
	WorkspacePath    string             `json:"workspacePath"`
	ModelSlug        string             `json:"modelSlug,omitempty"`
	RestatedRequests []string           `json:"restatedRequests"`
	// Steps is nil when the plan could not be read.
	Steps []CandidateStep `json:"steps,omitempty"`
}

// ModelReader is the memory read path used to find candidates.
type ModelReader interface {
	GetModel(ctx context.Context, slug string) (*memory.MentalModel, error)
}

// PlanReader reads an agent's stored plan.
type PlanReader interface {
	ReadPlan(ctx context.Context, workspacePath string) (*plan.StoredPlan, error)
}

// LiveAgents is the bridge to in-process executors.
type LiveAgents interface {
	IsAgentRegistered(agentID string) bool
	PushSignal(ctx context.Context, agentID, text string) error
	QueueTask(ctx context.Context, agentID string, entry memory.QueueEntry) error
	AbortAgent(ctx context.Context, agentID string) error
}

// AgentStore is the persisted side of routing decisions. Every write through
// it is best-effort.
type AgentStore interface {
	AppendRequest(ctx context.Context, agentID, request string) error
	AppendQueueEntry(ctx context.Context, agentID string, entry memory.QueueEntry) error
	UpdateAgentStatus(ctx context.Context, agentID string, status memory.AgentStatus) error
}

// findCandidate returns the candidate with agentID.
func findCandidate(candidates []CandidateAgent, agentID string) (CandidateAgent, bool) {
	for i := range candidates {
		if candidates[i].AgentID == agentID {
			return candidates[i], true
		}
	}
	return CandidateAgent{}, false
}
