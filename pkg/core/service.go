// Package core wires routing, planning, memory and workspaces into the single
// entry point a transport calls for every incoming message.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/notify"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/registry"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/routing"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

// Memory is the persisted state the service reads and writes.
type Memory interface {
	routing.ModelReader
	routing.AgentStore
	MatchModels(ctx context.Context, deviceID, text string, limit int) ([]memory.Match, error)
	UpsertModel(ctx context.Context, m *memory.MentalModel) error
	UpsertAgent(ctx context.Context, modelSlug string, a *memory.AgentAssignment) error
}

// PlanWriter persists a new agent's plan.
type PlanWriter interface {
	WritePlan(ctx context.Context, workspacePath string, p *plan.StoredPlan) error
}

// Launch describes work handed to the execution loop.
type Launch struct {
	AgentID       string
	DeviceID      string
	WorkspacePath string
	Request       string
	// Plan is nil when resuming an existing workspace.
	Plan *plan.StepPlan
	// Reserved is set when the agent's live slot was taken by Reserve.
	Reserved bool
}

// Launcher starts the execution loop for an agent. Neither method may block.
type Launcher interface {
	// Reserve makes agentID count as live before its plan exists, so
	// messages routed to it while it is planned are buffered, not lost.
	Reserve(ctx context.Context, agentID string) error
	Launch(ctx context.Context, l Launch) error
}

// Message is one incoming user message.
type Message struct {
	DeviceID string `json:"deviceId"`
	Text     string `json:"text"`
	// RecruitedToolIDs are upstream tool suggestions, best first.
	RecruitedToolIDs []string     `json:"recruitedToolIds,omitempty"`
	Skills           []plan.Skill `json:"skills,omitempty"`
}

// Outcome is what the caller reports back to the device.
type Outcome struct {
	Result        routing.AgentRoutingResult `json:"result"`
	AgentID       string                     `json:"agentId,omitempty"`
	Workspace     *workspace.Workspace       `json:"workspace,omitempty"`
	SetupCommands []workspace.SetupCommand   `json:"setupCommands,omitempty"`
	Plan          *plan.StepPlan             `json:"plan,omitempty"`
}

// Deps are the collaborators of a Service. Sink, Launcher and Live may be
// nil. Live receives follow-ups whose resume collided with a running executor.
type Deps struct {
	Memory     Memory
	Plans      PlanWriter
	Lock       *routing.Lock
	Collector  *routing.Collector
	Router     *routing.Router
	Executor   *routing.Executor
	Creator    *plan.Creator
	Workspaces *workspace.Manager
	Sink       notify.Sink
	Launcher   Launcher
	Live       routing.LiveAgents
	Catalog    []plan.Tool
}

// Options tune the service.
type Options struct {
	LockTimeout   time.Duration
	MinConfidence float64
	MatchLimit    int
}

// Service handles messages end to end.
type Service struct {
	deps   Deps
	opts   Options
	logger *logx.Logger
}

// NewService validates deps and returns a service.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Memory == nil:
		return nil, errors.New("core: memory is required")
	case deps.Plans == nil:
		return nil, errors.New("core: plan writer is required")
	case deps.Lock == nil, deps.Collector == nil, deps.Router == nil, deps.Executor == nil:
		return nil, errors.New("core: routing components are required")
	case deps.Creator == nil:
		return nil, errors.New("core: plan creator is required")
	case deps.Workspaces == nil:
		return nil, errors.New("core: workspace manager is required")
	}
	if deps.Sink == nil {
		deps.Sink = notify.Nop{}
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	if opts.MatchLimit <= 0 {
		opts.MatchLimit = memory.DefaultMatchLimit
	}
	return &Service{deps: deps, opts: opts, logger: logx.NewLogger("core")}, nil
}

// HandleMessage routes msg and applies the decision. Matching, routing and
// execution for a device are serialized by the routing lock; planning for a
// new agent runs after the lock is released, with the agent already reserved
// as live.
func (s *Service) HandleMessage(ctx context.Context, msg Message) (Outcome, error) {
	if strings.TrimSpace(msg.DeviceID) == "" {
		return Outcome{}, errors.New("device id is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Outcome{}, errors.New("message text is required")
	}
	ctx = logx.WithDevice(ctx, msg.DeviceID)

	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	guard, err := s.deps.Lock.Acquire(lockCtx, msg.DeviceID)
	cancel()
	if err != nil {
		return Outcome{}, err
	}
	defer guard.Release()

	matches, err := s.deps.Memory.MatchModels(ctx, msg.DeviceID, msg.Text, s.opts.MatchLimit)
	if err != nil {
		s.logger.Warn("Memory match failed for device %s, routing without candidates: %v", msg.DeviceID, err)
		matches = nil
	}

	candidates := s.deps.Collector.CollectCandidates(ctx, msg.DeviceID, matches)
	s.deps.Collector.EnrichCandidatesWithSteps(ctx, candidates)
	result := s.deps.Router.RouteToAgent(ctx, msg.Text, candidates)
	s.logger.Info("Device %s: %s %s (%s)", msg.DeviceID, result.Decision, result.TargetAgentID, result.Reasoning)

	if result.Decision == routing.DecisionNew {
		return s.startNew(ctx, guard, msg, matches, result)
	}

	result, err = s.deps.Executor.Execute(ctx, guard, routing.Request{
		DeviceID: msg.DeviceID,
		Message:  msg.Text,
		Result:   result,
	}, candidates)
	out := Outcome{Result: result, AgentID: result.TargetAgentID}
	if err != nil {
		return out, err
	}
	if result.Decision == routing.DecisionContinue {
		out.Result, err = s.resume(ctx, msg, result)
	}
	return out, err
}

// startNew records the agent while the lock is held so the next message for
// the device can see it, then plans outside the lock.
func (s *Service) startNew(ctx context.Context, guard *routing.Guard, msg Message, matches []memory.Match, result routing.AgentRoutingResult) (Outcome, error) {
	agentID := uuid.NewString()
	ws, cmds, err := s.deps.Workspaces.CreateWorkspace(agentID)
	if err != nil {
		guard.Release()
		return Outcome{Result: result}, fmt.Errorf("create workspace: %w", err)
	}

	slug, err := s.modelFor(ctx, msg, matches)
	if err != nil {
		guard.Release()
		return Outcome{Result: result}, err
	}
	agent := &memory.AgentAssignment{
		AgentID:       agentID,
		DeviceID:      msg.DeviceID,
		Status:        memory.StatusQueued,
		Prompt:        msg.Text,
		WorkspacePath: ws.BasePath,
	}
	if err := s.deps.Memory.UpsertAgent(ctx, slug, agent); err != nil {
		guard.Release()
		return Outcome{Result: result}, fmt.Errorf("record agent %s: %w", agentID, err)
	}
	reserved := false
	if s.deps.Launcher != nil {
		if err := s.deps.Launcher.Reserve(ctx, agentID); err != nil {
			guard.Release()
			return Outcome{Result: result}, fmt.Errorf("reserve agent %s: %w", agentID, err)
		}
		reserved = true
	}
	guard.Release()

	p := s.deps.Creator.CreatePlan(ctx, plan.Intake{
		DeviceID:         msg.DeviceID,
		RecruitedToolIDs: msg.RecruitedToolIDs,
		Skills:           msg.Skills,
	}, msg.Text, s.deps.Catalog)

	if err := s.deps.Plans.WritePlan(ctx, ws.BasePath, plan.NewStoredPlan(&p)); err != nil {
		s.logger.Warn("Failed to store plan for agent %s: %v", agentID, err)
	}

	s.deps.Sink.Notify(notify.Event{
		Event:    notify.EventAgentCreated,
		AgentID:  agentID,
		DeviceID: msg.DeviceID,
		Message:  fmt.Sprintf("Created agent with a %d-step plan", len(p.Steps)),
		Detail:   map[string]string{"workspacePath": ws.BasePath, "modelSlug": slug},
	})
	out := Outcome{
		Result:        result,
		AgentID:       agentID,
		Workspace:     &ws,
		SetupCommands: cmds,
		Plan:          &p,
	}

	err = s.launch(ctx, Launch{AgentID: agentID, DeviceID: msg.DeviceID, WorkspacePath: ws.BasePath, Request: msg.Text, Plan: &p, Reserved: reserved})
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotRegistered):
		// Stopped by a later message while it was being planned.
		s.logger.Info("Agent %s was stopped before it started", agentID)
	default:
		if reserved && s.deps.Live != nil && !errors.Is(err, registry.ErrAlreadyRegistered) {
			_ = s.deps.Live.AbortAgent(ctx, agentID)
		}
		if serr := s.deps.Memory.UpdateAgentStatus(ctx, agentID, memory.StatusFailed); serr != nil {
			s.logger.Warn("Failed to mark agent %s failed: %v", agentID, serr)
		}
		out.Result = s.undelivered(msg, result, agentID, err)
		out.Result.AckMessage = "Sorry, I couldn't start that task just now. Please try again."
		return out, fmt.Errorf("%w: launch %s: %w", routing.ErrExecution, agentID, err)
	}
	return out, nil
}

// modelFor picks the mental model a new agent belongs to: the best match
// when it clears the confidence threshold, otherwise a fresh model.
func (s *Service) modelFor(ctx context.Context, msg Message, matches []memory.Match) (string, error) {
	if len(matches) > 0 && matches[0].Confidence > s.opts.MinConfidence {
		return matches[0].ModelSlug, nil
	}
	m := &memory.MentalModel{
		Slug:     "model-" + uuid.NewString(),
		DeviceID: msg.DeviceID,
		Name:     headline(msg.Text),
	}
	if err := s.deps.Memory.UpsertModel(ctx, m); err != nil {
		return "", fmt.Errorf("create mental model: %w", err)
	}
	return m.Slug, nil
}

// resume records the follow-up on an agent continuing in its workspace and
// hands it back to the execution loop. If another execution registered the
// agent in the meantime, the follow-up is relayed to it as a signal instead.
func (s *Service) resume(ctx context.Context, msg Message, result routing.AgentRoutingResult) (routing.AgentRoutingResult, error) {
	agentID := result.TargetAgentID
	if err := s.deps.Memory.AppendRequest(ctx, agentID, msg.Text); err != nil {
		s.logger.Warn("Failed to record follow-up for agent %s: %v", agentID, err)
	}
	if err := s.deps.Memory.UpdateAgentStatus(ctx, agentID, memory.StatusQueued); err != nil {
		s.logger.Warn("Failed to requeue agent %s: %v", agentID, err)
	}

	err := s.launch(ctx, Launch{
		AgentID:       agentID,
		DeviceID:      msg.DeviceID,
		WorkspacePath: result.WorkspacePath,
		Request:       msg.Text,
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, registry.ErrAlreadyRegistered) && s.deps.Live != nil {
		pushCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
		perr := s.deps.Live.PushSignal(pushCtx, agentID, msg.Text)
		cancel()
		if perr == nil {
			s.logger.Info("Agent %s is already running; relayed follow-up as a signal", agentID)
			result.Decision = routing.DecisionModify
			result.WorkspacePath = ""
			result.AckMessage = "Got it, I've passed that along to the task in progress."
			return result, nil
		}
		err = fmt.Errorf("%w; relay: %w", err, perr)
	}
	return s.undelivered(msg, result, agentID, err), fmt.Errorf("%w: resume %s: %w", routing.ErrExecution, agentID, err)
}

func (s *Service) launch(ctx context.Context, l Launch) error {
	if s.deps.Launcher == nil {
		return nil
	}
	if err := s.deps.Launcher.Launch(ctx, l); err != nil {
		s.logger.Error("Failed to launch agent %s: %v", l.AgentID, err)
		return err
	}
	return nil
}

// undelivered reports a message that never reached its agent.
func (s *Service) undelivered(msg Message, result routing.AgentRoutingResult, agentID string, err error) routing.AgentRoutingResult {
	s.deps.Sink.Notify(notify.Event{
		Event:    notify.EventRoutingFailed,
		AgentID:  agentID,
		DeviceID: msg.DeviceID,
		Message:  err.Error(),
	})
	result.AckMessage = routing.UndeliveredAck
	return result
}

func headline(text string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	runes := []rune(line)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return line
}
