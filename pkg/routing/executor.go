package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/notify"
)

// DefaultExecutorTimeout bounds each round trip to a live executor.
const DefaultExecutorTimeout = 5 * time.Second

// UndeliveredAck tells the user their message did not reach its task.
const UndeliveredAck = "Sorry, I couldn't reach that task just now, so your message was not delivered. Please try again."

// action is one executable decision. The set of implementations is closed:
// modifyAction, queueAction, stopAction, continueAction.
type action interface {
	decision() Decision
	apply(ctx context.Context, e *Executor, req *Request) (AgentRoutingResult, error)
}

type modifyAction struct{ target CandidateAgent }
type queueAction struct{ target CandidateAgent }
type stopAction struct{ target CandidateAgent }
type continueAction struct{ target CandidateAgent }

func (modifyAction) decision() Decision   { return DecisionModify }
func (queueAction) decision() Decision    { return DecisionQueue }
func (stopAction) decision() Decision     { return DecisionStop }
func (continueAction) decision() Decision { return DecisionContinue }

// Request is a routed message ready to execute.
type Request struct {
	DeviceID string
	Message  string
	Result   AgentRoutingResult
}

// Executor turns a validated decision into side effects.
type Executor struct {
	live     LiveAgents
	store    AgentStore
	sink     notify.Sink
	recorder metrics.Recorder
	logger   *logx.Logger
	pending  sync.WaitGroup
	timeout  time.Duration
}

// NewExecutor returns an executor. store and sink may be nil.
func NewExecutor(live LiveAgents, store AgentStore, sink notify.Sink, recorder metrics.Recorder, timeout time.Duration) *Executor {
	if sink == nil {
		sink = notify.Nop{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if timeout <= 0 {
		timeout = DefaultExecutorTimeout
	}
	return &Executor{
		live:     live,
		store:    store,
		sink:     sink,
		recorder: recorder,
		logger:   logx.NewLogger("executor"),
		timeout:  timeout,
	}
}

// ShouldContinueInWorkspace reports whether a modify or queue aimed at c
// should instead resume c in its own workspace: c is not on hold and has no
// live executor.
func (e *Executor) ShouldContinueInWorkspace(c CandidateAgent) bool {
	return !c.Status.IsHold() && !e.live.IsAgentRegistered(c.AgentID)
}

// Execute applies req.Result and releases guard before returning, on every
// path. New decisions are returned unchanged for the caller to handle.
// Failures to reach the target executor are wrapped in ErrExecution and the
// returned result carries a failure acknowledgment.
func (e *Executor) Execute(ctx context.Context, guard *Guard, req Request, candidates []CandidateAgent) (AgentRoutingResult, error) {
	defer guard.Release()

	if req.Result.Decision == DecisionNew {
		return req.Result, nil
	}

	act, err := e.resolve(req.Result, candidates)
	if err != nil {
		res := e.failure(req, err)
		return res, err
	}

	start := time.Now()
	result, err := act.apply(ctx, e, &req)
	e.recorder.ObserveRoutingExecution(string(act.decision()), err, time.Since(start))
	if err != nil {
		return e.failure(req, err), err
	}
	return result, nil
}

func (e *Executor) resolve(result AgentRoutingResult, candidates []CandidateAgent) (action, error) {
	target, ok := findCandidate(candidates, result.TargetAgentID)
	if !ok {
		return nil, fmt.Errorf("%w: target %q is not a candidate", ErrExecution, result.TargetAgentID)
	}
	switch result.Decision {
	case DecisionModify:
		return modifyAction{target: target}, nil
	case DecisionQueue:
		return queueAction{target: target}, nil
	case DecisionStop:
		return stopAction{target: target}, nil
	case DecisionContinue:
		return continueAction{target: target}, nil
	default:
		return nil, fmt.Errorf("%w: unexecutable decision %q", ErrExecution, result.Decision)
	}
}

func (a modifyAction) apply(ctx context.Context, e *Executor, req *Request) (AgentRoutingResult, error) {
	if e.ShouldContinueInWorkspace(a.target) {
		e.logger.Info("Agent %s (%s) has no executor; continuing in its workspace instead of modifying", a.target.AgentID, a.target.Status)
		return continueAction(a).apply(ctx, e, req)
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.live.PushSignal(pushCtx, a.target.AgentID, req.Message); err != nil {
		return AgentRoutingResult{}, fmt.Errorf("%w: push signal to %s: %w", ErrExecution, a.target.AgentID, err)
	}

	e.persist("append request", a.target.AgentID, func(ctx context.Context) error {
		return e.store.AppendRequest(ctx, a.target.AgentID, req.Message)
	})
	e.sink.Notify(notify.Event{
		Event:    notify.EventAgentModified,
		AgentID:  a.target.AgentID,
		DeviceID: req.DeviceID,
		Message:  "Instruction relayed to running agent",
		Detail:   map[string]string{"request": req.Message},
	})

	res := req.Result
	res.Decision = DecisionModify
	res.AckMessage = ackOr(res.AckMessage, "Got it, I've passed that along to the task in progress.")
	return res, nil
}

func (a queueAction) apply(ctx context.Context, e *Executor, req *Request) (AgentRoutingResult, error) {
	if e.ShouldContinueInWorkspace(a.target) {
		e.logger.Info("Agent %s (%s) has no executor; continuing in its workspace instead of queueing", a.target.AgentID, a.target.Status)
		return continueAction(a).apply(ctx, e, req)
	}

	entry := memory.QueueEntry{ID: uuid.NewString(), Request: req.Message, AddedAt: time.Now().UTC()}
	queueCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.live.QueueTask(queueCtx, a.target.AgentID, entry); err != nil {
		return AgentRoutingResult{}, fmt.Errorf("%w: queue task for %s: %w", ErrExecution, a.target.AgentID, err)
	}

	e.persist("append queue entry", a.target.AgentID, func(ctx context.Context) error {
		return e.store.AppendQueueEntry(ctx, a.target.AgentID, entry)
	})
	e.sink.Notify(notify.Event{
		Event:    notify.EventAgentQueued,
		AgentID:  a.target.AgentID,
		DeviceID: req.DeviceID,
		Message:  "Request queued behind current task",
		Detail:   map[string]string{"queueId": entry.ID, "request": req.Message},
	})

	res := req.Result
	res.Decision = DecisionQueue
	res.AckMessage = ackOr(res.AckMessage, "Queued. I'll start on that once the current task is done.")
	return res, nil
}

func (a stopAction) apply(ctx context.Context, e *Executor, req *Request) (AgentRoutingResult, error) {
	abortCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.live.AbortAgent(abortCtx, a.target.AgentID); err != nil {
		return AgentRoutingResult{}, fmt.Errorf("%w: abort %s: %w", ErrExecution, a.target.AgentID, err)
	}

	e.persist("mark stopped", a.target.AgentID, func(ctx context.Context) error {
		return e.store.UpdateAgentStatus(ctx, a.target.AgentID, memory.StatusStopped)
	})
	e.sink.Notify(notify.Event{
		Event:    notify.EventAgentStopped,
		AgentID:  a.target.AgentID,
		DeviceID: req.DeviceID,
		Message:  "Agent stopped by user",
	})

	res := req.Result
	res.Decision = DecisionStop
	res.AckMessage = "Stopped. Everything completed so far is still saved."
	return res, nil
}

func (a continueAction) apply(_ context.Context, e *Executor, req *Request) (AgentRoutingResult, error) {
	e.sink.Notify(notify.Event{
		Event:    notify.EventAgentContinuing,
		AgentID:  a.target.AgentID,
		DeviceID: req.DeviceID,
		Message:  "Starting in existing workspace",
		Detail:   map[string]string{"workspacePath": a.target.WorkspacePath, "previousStatus": string(a.target.Status)},
	})

	res := req.Result
	res.Decision = DecisionContinue
	res.TargetAgentID = a.target.AgentID
	res.WorkspacePath = a.target.WorkspacePath
	res.AckMessage = "Picking this up where that task left off."
	return res, nil
}

func (e *Executor) failure(req Request, err error) AgentRoutingResult {
	e.logger.Error("Routing %s for agent %s failed: %v", req.Result.Decision, req.Result.TargetAgentID, err)
	e.sink.Notify(notify.Event{
		Event:    notify.EventRoutingFailed,
		AgentID:  req.Result.TargetAgentID,
		DeviceID: req.DeviceID,
		Message:  err.Error(),
	})
	res := req.Result
	res.AckMessage = UndeliveredAck
	return res
}

// persist runs a best-effort write in the background. Failures are logged.
func (e *Executor) persist(what, agentID string, fn func(context.Context) error) {
	if e.store == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("Best-effort %s for agent %s failed: %v", what, agentID, err)
		}
	}()
}

// Wait blocks until background persistence has finished.
func (e *Executor) Wait() {
	e.pending.Wait()
}

func ackOr(ack, fallback string) string {
	if ack != "" {
		return ack
	}
	return fallback
}
