package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

// ErrPlanNotFound is returned when a workspace has no plan file.
var ErrPlanNotFound = errors.New("plan not found")

// Progress marks how far execution has advanced through a stored plan.
type Progress struct {
	CompletedStepIDs []string `json:"completedStepIds"`
	CurrentStepID    string   `json:"currentStepId,omitempty"`
}

// StoredPlan is the persisted plan.json document.
type StoredPlan struct {
	Approach     string   `json:"approach,omitempty"`
	IsSimpleTask bool     `json:"isSimpleTask"`
	Steps        []Step   `json:"steps"`
	Progress     Progress `json:"progress"`
}

// FileStore reads and writes plan.json under workspace directories.
type FileStore struct{}

// NewFileStore returns a filesystem-backed plan store.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// ReadPlan loads the plan for workspacePath. It returns ErrPlanNotFound when
// the file is absent and never returns a partially populated plan. The read
// is abandoned when ctx is done.
func (s *FileStore) ReadPlan(ctx context.Context, workspacePath string) (*StoredPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read plan %s: %w", workspacePath, err)
	}

	type result struct {
		plan *StoredPlan
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := readPlanFile(filepath.Join(expandHome(workspacePath), workspace.PlanFileName))
		ch <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("read plan %s: %w", workspacePath, ctx.Err())
	case r := <-ch:
		return r.plan, r.err
	}
}

func readPlanFile(path string) (*StoredPlan, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	var stored StoredPlan
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(stored.Steps) == 0 {
		return nil, fmt.Errorf("parse plan %s: no steps", path)
	}
	return &stored, nil
}

// WritePlan stores p atomically (write to temp, rename) under workspacePath.
func (s *FileStore) WritePlan(_ context.Context, workspacePath string, p *StoredPlan) error {
	dir := expandHome(workspacePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plan-*.json")
	if err != nil {
		return fmt.Errorf("create temp plan: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp plan: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, workspace.PlanFileName)); err != nil {
		return fmt.Errorf("rename plan: %w", err)
	}
	return nil
}

// NewStoredPlan wraps a freshly created plan with empty progress.
func NewStoredPlan(p *StepPlan) *StoredPlan {
	return &StoredPlan{
		Approach:     p.Approach,
		IsSimpleTask: p.IsSimpleTask,
		Steps:        p.Steps,
		Progress:     Progress{CompletedStepIDs: []string{}},
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
