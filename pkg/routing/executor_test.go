package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/notify"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/registry"
)

type executorFixture struct {
	live  *fakeLive
	store *fakeStore
	sink  *notify.Memory
	lock  *Lock
	exec  *Executor
}

func newExecutorFixture(registered ...string) *executorFixture {
	f := &executorFixture{
		live:  newFakeLive(registered...),
		store: newFakeStore(),
		sink:  &notify.Memory{},
		lock:  NewLock(nil),
	}
	f.exec = NewExecutor(f.live, f.store, f.sink, nil, 100*time.Millisecond)
	return f
}

func (f *executorFixture) run(t *testing.T, decision Decision, target, message string, candidates []CandidateAgent) (AgentRoutingResult, error) {
	t.Helper()
	guard, err := f.lock.Acquire(context.Background(), "dev-1")
	require.NoError(t, err)

	result, err := f.exec.Execute(context.Background(), guard, Request{
		DeviceID: "dev-1",
		Message:  message,
		Result:   AgentRoutingResult{Decision: decision, TargetAgentID: target, Reasoning: "test"},
	}, candidates)
	f.exec.Wait()

	assert.False(t, f.lock.Held("dev-1"), "lock must be released")
	return result, err
}

func (f *executorFixture) eventTypes() []notify.EventType {
	var out []notify.EventType
	for _, e := range f.sink.Events() {
		out = append(out, e.Event)
	}
	return out
}

func TestScenarioBlockedAgentIsModifiedNotContinued(t *testing.T) {
	f := newExecutorFixture("agent-taxes")
	candidates := threeCandidates()

	result, err := f.run(t, DecisionModify, "agent-taxes", "use the 2025 forms", candidates)
	require.NoError(t, err)

	assert.Equal(t, DecisionModify, result.Decision)
	assert.Empty(t, result.WorkspacePath)
	assert.Equal(t, []string{"use the 2025 forms"}, f.live.signals["agent-taxes"])
	assert.Equal(t, []string{"use the 2025 forms"}, f.store.requests["agent-taxes"])
	assert.Equal(t, []notify.EventType{notify.EventAgentModified}, f.eventTypes())
}

func TestHeldAgentWithoutExecutorGetsFailureAck(t *testing.T) {
	reg := registry.New()
	sink := &notify.Memory{}
	exec := NewExecutor(reg, newFakeStore(), sink, nil, 100*time.Millisecond)
	lock := NewLock(nil)

	guard, err := lock.Acquire(context.Background(), "dev-1")
	require.NoError(t, err)
	result, err := exec.Execute(context.Background(), guard, Request{
		DeviceID: "dev-1",
		Message:  "use the 2025 forms",
		Result:   AgentRoutingResult{Decision: DecisionModify, TargetAgentID: "agent-taxes"},
	}, threeCandidates())
	exec.Wait()

	require.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	assert.Equal(t, UndeliveredAck, result.AckMessage)
	assert.False(t, lock.Held("dev-1"))
	require.Len(t, sink.Events(), 1)
	assert.Equal(t, notify.EventRoutingFailed, sink.Events()[0].Event)
}

func TestScenarioCompletedAgentContinuesInWorkspace(t *testing.T) {
	f := newExecutorFixture()
	candidates := threeCandidates()

	result, err := f.run(t, DecisionModify, "agent-essay", "add a section on generics", candidates)
	require.NoError(t, err)

	assert.Equal(t, DecisionContinue, result.Decision)
	assert.Equal(t, "agent-essay", result.TargetAgentID)
	assert.Equal(t, "/ws/agent-essay", result.WorkspacePath)
	assert.Empty(t, f.live.signals)
	assert.Equal(t, []notify.EventType{notify.EventAgentContinuing}, f.eventTypes())
}

func TestQueueOnRunningAgent(t *testing.T) {
	f := newExecutorFixture("agent-trip")

	result, err := f.run(t, DecisionQueue, "agent-trip", "then plan Osaka", threeCandidates())
	require.NoError(t, err)

	assert.Equal(t, DecisionQueue, result.Decision)
	require.Len(t, f.live.queued["agent-trip"], 1)
	entry := f.live.queued["agent-trip"][0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "then plan Osaka", entry.Request)
	assert.False(t, entry.AddedAt.IsZero())
	assert.Equal(t, []memory.QueueEntry{entry}, f.store.queue["agent-trip"])
	assert.Equal(t, []notify.EventType{notify.EventAgentQueued}, f.eventTypes())
}

func TestQueueOnIdleAgentRedirectsToContinue(t *testing.T) {
	f := newExecutorFixture()
	result, err := f.run(t, DecisionQueue, "agent-essay", "next, a summary", threeCandidates())
	require.NoError(t, err)
	assert.Equal(t, DecisionContinue, result.Decision)
	assert.Empty(t, f.live.queued)
}

func TestStopAbortsAndPersists(t *testing.T) {
	f := newExecutorFixture("agent-trip")

	result, err := f.run(t, DecisionStop, "agent-trip", "never mind the trip", threeCandidates())
	require.NoError(t, err)

	assert.Equal(t, DecisionStop, result.Decision)
	assert.Contains(t, result.AckMessage, "saved")
	assert.Equal(t, []string{"agent-trip"}, f.live.aborted)
	assert.Equal(t, memory.StatusStopped, f.store.statuses["agent-trip"])
	assert.Equal(t, []notify.EventType{notify.EventAgentStopped}, f.eventTypes())
}

func TestDirectContinue(t *testing.T) {
	f := newExecutorFixture()
	result, err := f.run(t, DecisionContinue, "agent-essay", "keep going", threeCandidates())
	require.NoError(t, err)
	assert.Equal(t, "/ws/agent-essay", result.WorkspacePath)
}

func TestExecutorFailurePropagatesAndReleasesLock(t *testing.T) {
	for _, decision := range []Decision{DecisionModify, DecisionQueue, DecisionStop} {
		t.Run(string(decision), func(t *testing.T) {
			f := newExecutorFixture("agent-trip")
			f.live.failWith = errors.New("executor unreachable")

			result, err := f.run(t, decision, "agent-trip", "msg", threeCandidates())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExecution)
			assert.Contains(t, err.Error(), "executor unreachable")
			assert.Contains(t, result.AckMessage, "not delivered")
			assert.Equal(t, []notify.EventType{notify.EventRoutingFailed}, f.eventTypes())
			assert.Empty(t, f.store.requests)
			assert.Empty(t, f.store.statuses)
		})
	}
}

func TestPersistenceFailureDoesNotFailRouting(t *testing.T) {
	f := newExecutorFixture("agent-trip")
	f.store.failWith = errors.New("disk full")

	result, err := f.run(t, DecisionModify, "agent-trip", "use trains only", threeCandidates())
	require.NoError(t, err)
	assert.Equal(t, DecisionModify, result.Decision)
	assert.Equal(t, []string{"use trains only"}, f.live.signals["agent-trip"])
}

func TestUnknownTargetIsExecutionError(t *testing.T) {
	f := newExecutorFixture()
	_, err := f.run(t, DecisionStop, "ghost", "stop", threeCandidates())
	assert.ErrorIs(t, err, ErrExecution)
}

func TestNewPassesThrough(t *testing.T) {
	f := newExecutorFixture()
	result, err := f.run(t, DecisionNew, "", "fresh task", nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionNew, result.Decision)
	assert.Empty(t, f.sink.Events())
}

func TestShouldContinueInWorkspace(t *testing.T) {
	f := newExecutorFixture("live")
	tests := []struct {
		status memory.AgentStatus
		id     string
		want   bool
	}{
		{memory.StatusCompleted, "idle", true},
		{memory.StatusStopped, "idle", true},
		{memory.StatusFailed, "idle", true},
		{memory.StatusBlocked, "idle", false},
		{memory.StatusWaitingOnHuman, "idle", false},
		{memory.StatusRunning, "live", false},
		{memory.StatusCompleted, "live", false},
	}
	for _, tt := range tests {
		got := f.exec.ShouldContinueInWorkspace(CandidateAgent{AgentID: tt.id, Status: tt.status})
		assert.Equal(t, tt.want, got, "%s/%s", tt.id, tt.status)
	}
}
