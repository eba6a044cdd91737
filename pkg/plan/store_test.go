package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

func TestWriteThenReadPlan(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agent-1")
	store := NewFileStore()

	stored := NewStoredPlan(&StepPlan{Approach: "x", IsSimpleTask: true, Steps: makeSteps("s1", "s2")})
	stored.Progress.CompletedStepIDs = []string{"s1"}
	stored.Progress.CurrentStepID = "s2"
	require.NoError(t, store.WritePlan(context.Background(), dir, stored))

	got, err := store.ReadPlan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	raw, err := os.ReadFile(filepath.Join(dir, workspace.PlanFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"completedStepIds"`)
	assert.Contains(t, string(raw), `"currentStepId": "s2"`)
	assert.Contains(t, string(raw), `"isSimpleTask": true`)
}

func TestReadPlanMissing(t *testing.T) {
	got, err := NewFileStore().ReadPlan(context.Background(), t.TempDir())
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestReadPlanMalformedIsNeverPartial(t *testing.T) {
	for name, body := range map[string]string{
		"not json": "{{{",
		"no steps": `{"steps": [], "progress": {"completedStepIds": []}}`,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.PlanFileName), []byte(body), 0o644))

			got, err := NewFileStore().ReadPlan(context.Background(), dir)
			assert.Nil(t, got)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrPlanNotFound)
		})
	}
}

func TestReadPlanHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := NewFileStore().ReadPlan(ctx, t.TempDir())
	require.Error(t, err)
}
