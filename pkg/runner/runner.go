// Package runner is the in-process execution loop. It registers each
// launched agent as live, walks its plan in dependency order, replans after
// every step, and drains queued follow-ups before finishing. What a step
// actually does is delegated to a StepRunner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/core"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/notify"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/registry"
)

// maxSnapshotFiles bounds the workspace listing shown to the re-planner.
const maxSnapshotFiles = 200

// StepRunner performs one step inside an agent's workspace.
type StepRunner interface {
	RunStep(ctx context.Context, job Job) plan.StepResult
}

// Job is one step handed to a StepRunner.
type Job struct {
	AgentID       string
	WorkspacePath string
	Request       string
	Step          plan.Step
}

// StatusStore persists agent status transitions.
type StatusStore interface {
	UpdateAgentStatus(ctx context.Context, agentID string, status memory.AgentStatus) error
}

// PlanStore reads and writes an agent's plan file.
type PlanStore interface {
	ReadPlan(ctx context.Context, workspacePath string) (*plan.StoredPlan, error)
	WritePlan(ctx context.Context, workspacePath string, p *plan.StoredPlan) error
}

// Deps are the collaborators of a Runner. Sink may be nil.
type Deps struct {
	Registry  *registry.Registry
	Status    StatusStore
	Plans     PlanStore
	Creator   *plan.Creator
	Replanner *plan.Replanner
	Steps     StepRunner
	Sink      notify.Sink
	Catalog   []plan.Tool
}

// Runner launches agents. It satisfies core.Launcher.
type Runner struct {
	base   context.Context
	deps   Deps
	logger *logx.Logger
	wg     sync.WaitGroup
}

// New returns a runner whose agents live until base is cancelled or they
// are aborted.
func New(base context.Context, deps Deps) *Runner {
	if deps.Sink == nil {
		deps.Sink = notify.Nop{}
	}
	return &Runner{base: base, deps: deps, logger: logx.NewLogger("runner")}
}

// Reserve holds a live slot for an agent that is still being planned.
func (r *Runner) Reserve(_ context.Context, agentID string) error {
	return r.deps.Registry.Reserve(r.base, agentID)
}

// Launch registers the agent, or claims its reserved slot, and starts its
// loop in the background.
func (r *Runner) Launch(_ context.Context, l core.Launch) error {
	var (
		h   *registry.Handle
		err error
	)
	if l.Reserved {
		h, err = r.deps.Registry.Claim(l.AgentID)
	} else {
		h, err = r.deps.Registry.Register(r.base, l.AgentID)
	}
	if err != nil {
		return fmt.Errorf("launch %s: %w", l.AgentID, err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer h.Release()
		r.run(h, l)
	}()
	return nil
}

// Wait blocks until every launched loop has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// execution is the mutable state of one agent's loop.
type execution struct {
	original  plan.StepPlan
	done      []plan.Step
	remaining []plan.Step
	completed []string
	round     int
}

func (r *Runner) run(h *registry.Handle, l core.Launch) {
	ctx := h.Context()
	r.setStatus(ctx, l.AgentID, memory.StatusRunning)

	ex, pending, err := r.load(ctx, l)
	if err != nil {
		r.finish(h, l, memory.StatusFailed, err.Error())
		return
	}

	request := l.Request
	for {
		for len(ex.remaining) > 0 {
			if ctx.Err() != nil {
				r.logger.Info("Agent %s stopped with %d steps left", l.AgentID, len(ex.remaining))
				return
			}
			failure, ok := r.step(ctx, h, l, ex, request, &pending)
			if !ok {
				if failure != "" {
					r.finish(h, l, memory.StatusFailed, failure)
				}
				return
			}
		}

		entry, ok := h.NextTask()
		if !ok {
			break
		}
		r.logger.Info("Agent %s picking up queued task %s", l.AgentID, entry.ID)
		request = entry.Request
		r.extend(ctx, l, ex, request)
		r.save(ctx, l.WorkspacePath, ex, "")
	}

	r.finish(h, l, memory.StatusCompleted, fmt.Sprintf("Finished %d steps", len(ex.completed)))
}

// load builds the execution from a fresh plan or, on resume, from the stored
// plan. A resumed request becomes a signal for the next replan, or a new
// round of steps when nothing is left to run.
func (r *Runner) load(ctx context.Context, l core.Launch) (*execution, []string, error) {
	if l.Plan != nil {
		ex := &execution{original: *l.Plan, remaining: append([]plan.Step(nil), l.Plan.Steps...)}
		return ex, nil, nil
	}

	stored, err := r.deps.Plans.ReadPlan(ctx, l.WorkspacePath)
	if err != nil {
		return nil, nil, fmt.Errorf("resume %s: %w", l.AgentID, err)
	}
	ex := &execution{
		original:  plan.StepPlan{Approach: stored.Approach, IsSimpleTask: stored.IsSimpleTask, Steps: stored.Steps},
		completed: append([]string(nil), stored.Progress.CompletedStepIDs...),
	}
	ex.done, ex.remaining = plan.SplitRemaining(stored.Steps, stored.Progress.CompletedStepIDs)
	if len(ex.remaining) == 0 {
		r.extend(ctx, l, ex, l.Request)
		r.save(ctx, l.WorkspacePath, ex, "")
		return ex, nil, nil
	}
	return ex, []string{l.Request}, nil
}

// step runs the next ready step and replans. ok is false when the loop must
// end; failure is empty when it ended because the agent was stopped.
func (r *Runner) step(ctx context.Context, h *registry.Handle, l core.Launch, ex *execution, request string, pending *[]string) (failure string, ok bool) {
	succeeded := make(map[string]bool, len(ex.completed))
	for _, id := range ex.completed {
		succeeded[id] = true
	}
	ready := plan.ReadySteps(ex.remaining, succeeded)
	if len(ready) == 0 {
		return fmt.Sprintf("no runnable step among %d remaining", len(ex.remaining)), false
	}
	next := ready[0]
	r.save(ctx, l.WorkspacePath, ex, next.ID)

	result := r.deps.Steps.RunStep(ctx, Job{
		AgentID:       l.AgentID,
		WorkspacePath: l.WorkspacePath,
		Request:       request,
		Step:          next,
	})
	if !h.AcceptResult(next.Title) {
		return "", false
	}

	ex.remaining = without(ex.remaining, next.ID)
	if result.Success {
		ex.done = append(ex.done, next)
		ex.completed = append(ex.completed, next.ID)
	}

	signals := append(*pending, h.DrainSignals()...)
	*pending = nil
	revised := r.deps.Replanner.Replan(ctx, ex.original, result, ex.remaining, snapshot(l.WorkspacePath), plan.ReplanOptions{
		Signals:            signals,
		Catalog:            r.deps.Catalog,
		CompletedStepCount: len(ex.completed),
		CompletedStepIDs:   ex.completed,
	})
	if !h.AcceptResult("replan after " + next.ID) {
		return "", false
	}

	if revised.Changed {
		ex.remaining = revised.RemainingSteps
		r.deps.Sink.Notify(notify.Event{
			Event:   notify.EventPlanRevised,
			AgentID: l.AgentID,
			Message: revised.Reasoning,
			Detail:  map[string]string{"afterStep": next.ID, "remaining": fmt.Sprint(len(ex.remaining))},
		})
	} else if !result.Success {
		return fmt.Sprintf("step %s failed: %s", next.ID, firstLine(result.Output)), false
	}
	r.save(ctx, l.WorkspacePath, ex, "")
	return "", true
}

// extend plans request as a new round appended after the executed steps.
func (r *Runner) extend(ctx context.Context, l core.Launch, ex *execution, request string) {
	ex.round++
	p := r.deps.Creator.CreatePlan(ctx, plan.Intake{DeviceID: l.DeviceID}, request, r.deps.Catalog)
	steps := namespaceSteps(p.Steps, fmt.Sprintf("r%d-", ex.round))
	ex.original = plan.StepPlan{Approach: p.Approach, IsSimpleTask: p.IsSimpleTask, Steps: steps}
	ex.remaining = append(ex.remaining, steps...)
}

func (r *Runner) save(ctx context.Context, workspacePath string, ex *execution, current string) {
	stored := &plan.StoredPlan{
		Approach:     ex.original.Approach,
		IsSimpleTask: ex.original.IsSimpleTask,
		Steps:        append(append([]plan.Step(nil), ex.done...), ex.remaining...),
		Progress:     plan.Progress{CompletedStepIDs: ex.completed, CurrentStepID: current},
	}
	if err := r.deps.Plans.WritePlan(ctx, workspacePath, stored); err != nil {
		r.logger.Warn("Failed to save progress in %s: %v", workspacePath, err)
	}
}

func (r *Runner) finish(h *registry.Handle, l core.Launch, status memory.AgentStatus, message string) {
	if !h.AcceptResult(string(status)) {
		return
	}
	r.setStatus(h.Context(), l.AgentID, status)
	event := notify.EventAgentCompleted
	if status == memory.StatusFailed {
		event = notify.EventAgentFailed
		r.logger.Warn("Agent %s failed: %s", l.AgentID, message)
	}
	r.deps.Sink.Notify(notify.Event{Event: event, AgentID: l.AgentID, DeviceID: l.DeviceID, Message: message})
}

func (r *Runner) setStatus(ctx context.Context, agentID string, status memory.AgentStatus) {
	if err := r.deps.Status.UpdateAgentStatus(ctx, agentID, status); err != nil {
		r.logger.Warn("Failed to set agent %s %s: %v", agentID, status, err)
	}
}

func without(steps []plan.Step, id string) []plan.Step {
	out := make([]plan.Step, 0, len(steps))
	for i := range steps {
		if steps[i].ID != id {
			out = append(out, steps[i])
		}
	}
	return out
}

// namespaceSteps prefixes ids so a later round never collides with an
// executed step.
func namespaceSteps(steps []plan.Step, prefix string) []plan.Step {
	out := make([]plan.Step, len(steps))
	for i := range steps {
		s := steps[i]
		s.ID = prefix + s.ID
		deps := make([]string, len(s.DependsOn))
		for j, d := range s.DependsOn {
			deps[j] = prefix + d
		}
		s.DependsOn = deps
		out[i] = s
	}
	return out
}

// snapshot lists workspace files relative to the workspace root.
func snapshot(workspacePath string) plan.WorkspaceSnapshot {
	snap := plan.WorkspaceSnapshot{Path: workspacePath}
	errStop := errors.New("stop")
	_ = filepath.WalkDir(workspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, relErr := filepath.Rel(workspacePath, path)
		if relErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		snap.Files = append(snap.Files, rel)
		if len(snap.Files) >= maxSnapshotFiles {
			return errStop
		}
		return nil
	})
	return snap
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
