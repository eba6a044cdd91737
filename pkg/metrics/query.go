package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Summary aggregates the routing and planning counters scraped from a fleet
// of dotbot processes.
type Summary struct {
	Decisions     map[string]float64 `json:"decisions"`
	PlanFallbacks map[string]float64 `json:"planFallbacks"`
	ReplansByTier map[string]float64 `json:"replansByTier"`
	DeadAgents    float64            `json:"deadAgents"`
	Window        string             `json:"window"`
}

// QueryService reads aggregated metrics back from a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service for the Prometheus at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetSummary returns counter increases over window (for example "24h").
func (q *QueryService) GetSummary(ctx context.Context, window string) (*Summary, error) {
	if _, err := model.ParseDuration(window); err != nil {
		return nil, fmt.Errorf("invalid window %q: %w", window, err)
	}
	s := &Summary{Window: window}

	var err error
	if s.Decisions, err = q.sumBy(ctx, "decision", "dotbot_routing_decisions_total", window); err != nil {
		return nil, err
	}
	if s.PlanFallbacks, err = q.sumBy(ctx, "cause", "dotbot_plan_fallbacks_total", window); err != nil {
		return nil, err
	}
	if s.ReplansByTier, err = q.sumBy(ctx, "tier", "dotbot_replans_total", window); err != nil {
		return nil, err
	}

	dead, _, err := q.queryAPI.Query(ctx, fmt.Sprintf(`sum(increase(dotbot_dead_agents_corrected_total[%s]))`, window), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query dead agents: %w", err)
	}
	if vector, ok := dead.(model.Vector); ok && len(vector) > 0 {
		s.DeadAgents = float64(vector[0].Value)
	}
	return s, nil
}

func (q *QueryService) sumBy(ctx context.Context, label, metric, window string) (map[string]float64, error) {
	query := fmt.Sprintf(`sum by (%s) (increase(%s[%s]))`, label, metric, window)
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", metric, err)
	}

	out := make(map[string]float64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric[model.LabelName(label)])] = float64(sample.Value)
		}
	}
	return out, nil
}
