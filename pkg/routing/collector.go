package routing

import (
	"context"
	"sync"
	"time"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
)

// CollectorConfig tunes candidate collection.
type CollectorConfig struct {
	// MinConfidence is exclusive: a match must score above it.
	MinConfidence   float64
	PlanReadTimeout time.Duration
}

// Collector builds the candidate roster for a device.
type Collector struct {
	models   ModelReader
	plans    PlanReader
	live     LiveAgents
	recorder metrics.Recorder
	logger   *logx.Logger
	cfg      CollectorConfig
}

// NewCollector returns a collector. plans may be nil to disable enrichment.
func NewCollector(models ModelReader, plans PlanReader, live LiveAgents, recorder metrics.Recorder, cfg CollectorConfig) *Collector {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if cfg.PlanReadTimeout <= 0 {
		cfg.PlanReadTimeout = 2 * time.Second
	}
	return &Collector{
		models:   models,
		plans:    plans,
		live:     live,
		recorder: recorder,
		logger:   logx.NewLogger("collector"),
		cfg:      cfg,
	}
}

// CollectCandidates returns the agents attached to sufficiently relevant
// memory matches, deduplicated, without persisted failures, and with dead
// agents corrected to failed. It never returns an error: a model that cannot
// be read contributes no candidates.
func (c *Collector) CollectCandidates(ctx context.Context, deviceID string, matches []memory.Match) []CandidateAgent {
	var candidates []CandidateAgent
	seen := make(map[string]bool)

	for _, match := range matches {
		if match.Confidence <= c.cfg.MinConfidence {
			continue
		}
		model, err := c.models.GetModel(ctx, match.ModelSlug)
		if err != nil {
			c.logger.Warn("Skipping model %s for device %s: %v", match.ModelSlug, deviceID, err)
			continue
		}

		for i := range model.Agents {
			a := &model.Agents[i]
			if a.AgentID == "" || seen[a.AgentID] {
				continue
			}
			seen[a.AgentID] = true
			if a.Status == memory.StatusFailed {
				continue
			}

			candidates = append(candidates, CandidateAgent{
				CreatedAt:        a.CreatedAt,
				AgentID:          a.AgentID,
				Status:           a.Status,
				WorkspacePath:    a.WorkspacePath,
				ModelSlug:        model.Slug,
				RestatedRequests: a.RestatedRequests(),
			})
		}
	}

	for i := range candidates {
		cand := &candidates[i]
		if cand.Status.ImpliesLiveExecutor() && !c.live.IsAgentRegistered(cand.AgentID) {
			c.logger.Warn("Agent %s is persisted as %s but has no live executor; treating as failed", cand.AgentID, cand.Status)
			c.recorder.IncDeadAgent()
			cand.Status = memory.StatusFailed
		}
	}

	logx.Debug(ctx, "routing", "collected %d candidates from %d matches", len(candidates), len(matches))
	return candidates
}

// EnrichCandidatesWithSteps fills each candidate's Steps from its stored plan.
// Reads run concurrently, each bounded by the plan read timeout. A candidate
// whose plan cannot be read keeps nil Steps.
func (c *Collector) EnrichCandidatesWithSteps(ctx context.Context, candidates []CandidateAgent) {
	if c.plans == nil {
		return
	}

	var wg sync.WaitGroup
	for i := range candidates {
		if candidates[i].WorkspacePath == "" {
			continue
		}
		wg.Add(1)
		go func(cand *CandidateAgent) {
			defer wg.Done()
			readCtx, cancel := context.WithTimeout(ctx, c.cfg.PlanReadTimeout)
			defer cancel()

			stored, err := c.plans.ReadPlan(readCtx, cand.WorkspacePath)
			if err != nil {
				logx.Debug(ctx, "routing", "no plan for agent %s: %v", cand.AgentID, err)
				return
			}
			cand.Steps = candidateSteps(stored)
		}(&candidates[i])
	}
	wg.Wait()
}

func candidateSteps(stored *plan.StoredPlan) []CandidateStep {
	completed := make(map[string]bool, len(stored.Progress.CompletedStepIDs))
	for _, id := range stored.Progress.CompletedStepIDs {
		completed[id] = true
	}

	steps := make([]CandidateStep, 0, len(stored.Steps))
	for i := range stored.Steps {
		s := &stored.Steps[i]
		status := StepRemaining
		switch {
		case completed[s.ID]:
			status = StepCompleted
		case s.ID == stored.Progress.CurrentStepID:
			status = StepCurrent
		}
		steps = append(steps, CandidateStep{ID: s.ID, Title: s.Title, Status: status})
	}
	return steps
}
