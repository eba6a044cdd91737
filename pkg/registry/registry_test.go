package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
)

func TestRegisterAndRelease(t *testing.T) {
	r := New()
	h, err := r.Register(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, r.IsAgentRegistered("a1"))

	_, err = r.Register(context.Background(), "a1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	h.Release()
	assert.False(t, r.IsAgentRegistered("a1"))
	assert.Error(t, h.Context().Err())
}

func TestPushSignal(t *testing.T) {
	r := New()
	ctx := context.Background()

	assert.ErrorIs(t, r.PushSignal(ctx, "ghost", "hi"), ErrNotRegistered)

	h, err := r.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, r.PushSignal(ctx, "a1", "use metric units"))
	require.NoError(t, r.PushSignal(ctx, "a1", "skip Osaka"))
	assert.Equal(t, []string{"use metric units", "skip Osaka"}, h.DrainSignals())
	assert.Empty(t, h.DrainSignals())
}

func TestPushSignalFullBufferHonorsTimeout(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "a1")
	require.NoError(t, err)

	for i := 0; i < DefaultSignalBuffer; i++ {
		require.NoError(t, r.PushSignal(context.Background(), "a1", fmt.Sprintf("s%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.PushSignal(ctx, "a1", "overflow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueTaskOrder(t *testing.T) {
	r := New()
	ctx := context.Background()
	assert.ErrorIs(t, r.QueueTask(ctx, "a1", memory.QueueEntry{ID: "q0"}), ErrNotRegistered)

	h, err := r.Register(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, r.QueueTask(ctx, "a1", memory.QueueEntry{ID: "q1", Request: "first"}))
	require.NoError(t, r.QueueTask(ctx, "a1", memory.QueueEntry{ID: "q2", Request: "second"}))

	e, ok := h.NextTask()
	require.True(t, ok)
	assert.Equal(t, "q1", e.ID)
	e, ok = h.NextTask()
	require.True(t, ok)
	assert.Equal(t, "q2", e.ID)
	_, ok = h.NextTask()
	assert.False(t, ok)
}

func TestAbortCancelsAndRejectsLateResults(t *testing.T) {
	r := New()
	h, err := r.Register(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, h.AcceptResult("step 1 done"))

	require.NoError(t, r.AbortAgent(context.Background(), "a1"))
	assert.False(t, r.IsAgentRegistered("a1"))
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)
	assert.False(t, h.AcceptResult("step 2 done"))

	// A later execution in the same workspace does not revive the old handle.
	h2, err := r.Register(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, h.AcceptResult("stale"))
	assert.True(t, h2.AcceptResult("fresh"))

	h.Release()
	assert.True(t, r.IsAgentRegistered("a1"))
}

func TestReservedSlotBuffersUntilClaimed(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Reserve(ctx, "a1"))
	assert.True(t, r.IsAgentRegistered("a1"))
	assert.ErrorIs(t, r.Reserve(ctx, "a1"), ErrAlreadyRegistered)

	_, err := r.Register(ctx, "a1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	require.NoError(t, r.PushSignal(ctx, "a1", "add Nara"))
	require.NoError(t, r.QueueTask(ctx, "a1", memory.QueueEntry{ID: "q1", Request: "then Osaka"}))

	h, err := r.Claim("a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"add Nara"}, h.DrainSignals())
	entry, ok := h.NextTask()
	require.True(t, ok)
	assert.Equal(t, "q1", entry.ID)
	assert.True(t, h.AcceptResult("step 1 done"))

	_, err = r.Claim("a1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	h.Release()
	assert.False(t, r.IsAgentRegistered("a1"))
}

func TestClaimAfterAbortFails(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Reserve(ctx, "a1"))
	require.NoError(t, r.AbortAgent(ctx, "a1"))
	assert.False(t, r.IsAgentRegistered("a1"))

	_, err := r.Claim("a1")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestAbortWithoutExecutorIsNoop(t *testing.T) {
	assert.NoError(t, New().AbortAgent(context.Background(), "ghost"))
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", i%10)
			if h, err := r.Register(context.Background(), id); err == nil {
				_ = r.PushSignal(context.Background(), id, "x")
				_ = r.QueueTask(context.Background(), id, memory.QueueEntry{ID: fmt.Sprint(i)})
				_ = r.IsAgentRegistered(id)
				h.Release()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}
