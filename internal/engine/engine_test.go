package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/agent"
	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/store"
)

type fakeReasoner struct {
	steps []types.CompletionResponse
	err   error
	calls int
}

func (r *fakeReasoner) Complete(_ context.Context, _ types.CompletionRequest) (*types.CompletionResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	i := r.calls
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	r.calls++
	resp := r.steps[i]
	return &resp, nil
}

func testAlert() agent.AlertContext {
	return agent.AlertContext{
		AlertName: "High Error Rate",
		Service:   "payments-api",
		Severity:  "critical",
		Message:   "error rate above 5%",
	}
}

func newTestEngine(t *testing.T, reasoner agent.Reasoner) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	resolver := credentials.NewResolver(nil, cfg)
	return New(cfg, s, resolver, reasoner, nil), s
}

func TestRunInvestigationPersistsCompleted(t *testing.T) {
	reasoner := &fakeReasoner{steps: []types.CompletionResponse{
		{
			Content: "Checking deployments",
			ToolCalls: []types.ToolCall{
				{ID: "1", Name: "get_recent_deployments", Arguments: map[string]interface{}{}},
			},
		},
		{Content: "Root cause: deployment abc123 shipped a bad config change. Confidence: High."},
	}}

	e, s := newTestEngine(t, reasoner)
	result := e.RunInvestigation(context.Background(), "inv-1", "org-1", testAlert(), nil)

	assert.True(t, result.Success)
	assert.Contains(t, result.Summary, "abc123")

	rec, err := s.GetIncident(context.Background(), "org-1", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Contains(t, rec.Summary, "abc123")
	assert.Equal(t, "deployment abc123 shipped a bad config change. Confidence: High.", rec.RootCause)
	assert.Greater(t, rec.DurationMs, int64(-1))
}

func TestRunInvestigationToolCatalogComplete(t *testing.T) {
	e, _ := newTestEngine(t, &fakeReasoner{})
	registry, err := e.buildRegistry(context.Background(), "org-1", "inv-1", nil)
	require.NoError(t, err)

	names := registry.Names()
	// 3 runbook + 4 memory + 3 github + 5 datadog + 2 slack
	assert.Len(t, names, 17)
	assert.Contains(t, names, "find_matching_runbooks")
	assert.Contains(t, names, "detect_patterns_and_suggest")
	assert.Contains(t, names, "get_recent_deployments")
	assert.Contains(t, names, "search_logs")
	assert.Contains(t, names, "send_investigation_result")
}

func TestRunInvestigationFailurePersisted(t *testing.T) {
	reasoner := &fakeReasoner{err: errors.New("model unavailable")}

	e, s := newTestEngine(t, reasoner)
	result := e.RunInvestigation(context.Background(), "inv-2", "org-1", testAlert(), nil)

	assert.False(t, result.Success)

	rec, err := s.GetIncident(context.Background(), "org-1", "inv-2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Summary, "model unavailable")
}

func TestRunInvestigationRecordsDeployments(t *testing.T) {
	reasoner := &fakeReasoner{steps: []types.CompletionResponse{
		{Content: "Unconfigured integrations leave no evidence, so this run concludes from the alert alone."},
	}}

	e, s := newTestEngine(t, reasoner)
	e.RunInvestigation(context.Background(), "inv-3", "org-1", testAlert(), nil)

	rec, err := s.GetIncident(context.Background(), "org-1", "inv-3")
	require.NoError(t, err)
	var deployments []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rec.DeploymentsFound), &deployments))
	assert.Empty(t, deployments)
}

func TestStartAsyncCompletes(t *testing.T) {
	reasoner := &fakeReasoner{steps: []types.CompletionResponse{
		{Content: "Root cause: a transient network partition between the gateway and the database."},
	}}

	e, _ := newTestEngine(t, reasoner)
	id := e.Start("org-1", testAlert())
	require.NotEmpty(t, id)

	deadline := time.After(5 * time.Second)
	for {
		rec, err := e.Get(context.Background(), "org-1", id)
		require.NoError(t, err)
		if rec != nil && rec.Status == StatusCompleted {
			assert.Contains(t, rec.Summary, "network partition")
			break
		}
		select {
		case <-deadline:
			t.Fatal("investigation did not complete in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCancelUnknownInvestigation(t *testing.T) {
	e, _ := newTestEngine(t, &fakeReasoner{})
	assert.False(t, e.Cancel("no-such-id"))
}

func TestBrokerDeliversLoopEvents(t *testing.T) {
	reasoner := &fakeReasoner{steps: []types.CompletionResponse{
		{Content: "Root cause: the alert threshold was tightened yesterday and now fires on normal load."},
	}}

	e, _ := newTestEngine(t, reasoner)
	events, cancel := e.Broker().Subscribe("inv-ev")
	defer cancel()

	e.RunInvestigation(context.Background(), "inv-ev", "org-1", testAlert(), nil)

	var seen []agent.EventType
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev.Type)
			if ev.Type == agent.EventCompleted {
				assert.Contains(t, seen, agent.EventReasoning)
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("no completed event, saw %v", seen)
		}
	}
}

func TestSetFeedback(t *testing.T) {
	reasoner := &fakeReasoner{steps: []types.CompletionResponse{
		{Content: "Root cause: cache stampede after the TTL change rolled out to all regions at once."},
	}}

	e, s := newTestEngine(t, reasoner)
	e.RunInvestigation(context.Background(), "inv-fb", "org-1", testAlert(), nil)

	require.NoError(t, e.SetFeedback(context.Background(), "org-1", "inv-fb", 1))
	rec, err := s.GetIncident(context.Background(), "org-1", "inv-fb")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FeedbackRating)
}

func TestExtractRootCause(t *testing.T) {
	assert.Equal(t, "bad deploy",
		extractRootCause("Summary line\nRoot cause: bad deploy\nConfidence: High"))
	assert.Equal(t, "", extractRootCause("No structured conclusion here."))
	assert.Equal(t, "case insensitive", extractRootCause("ROOT CAUSE: case insensitive"))
}
