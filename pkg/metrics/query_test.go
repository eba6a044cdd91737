package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrometheus answers instant queries with one canned vector per metric.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		query := r.Form.Get("query")

		var result string
		switch {
		case strings.Contains(query, "dotbot_routing_decisions_total"):
			result = `{"metric":{"decision":"new"},"value":[1700000000,"7"]},{"metric":{"decision":"modify"},"value":[1700000000,"3"]}`
		case strings.Contains(query, "dotbot_plan_fallbacks_total"):
			result = `{"metric":{"cause":"parse"},"value":[1700000000,"1"]}`
		case strings.Contains(query, "dotbot_dead_agents_corrected_total"):
			result = `{"metric":{},"value":[1700000000,"2"]}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[%s]}}`, result)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestGetSummary(t *testing.T) {
	q, err := NewQueryService(fakePrometheus(t).URL)
	require.NoError(t, err)

	s, err := q.GetSummary(context.Background(), "24h")
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"new": 7, "modify": 3}, s.Decisions)
	assert.Equal(t, map[string]float64{"parse": 1}, s.PlanFallbacks)
	assert.Empty(t, s.ReplansByTier)
	assert.Equal(t, float64(2), s.DeadAgents)
}

func TestGetSummaryRejectsBadWindow(t *testing.T) {
	q, err := NewQueryService("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = q.GetSummary(context.Background(), "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid window")
}
