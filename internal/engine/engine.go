// Package engine wires the investigation loop to its collaborators: the
// reasoning adapter, the tool registry built per organization, credential
// resolution, persistence, audit logging, and the live event broker.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/agent"
	"github.com/incidentops/incident-agent/internal/audit"
	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/store"
	"github.com/incidentops/incident-agent/internal/tools"
	"github.com/incidentops/incident-agent/internal/tools/datadog"
	"github.com/incidentops/incident-agent/internal/tools/github"
	"github.com/incidentops/incident-agent/internal/tools/memory"
	"github.com/incidentops/incident-agent/internal/tools/runbook"
	"github.com/incidentops/incident-agent/internal/tools/slack"
)

// Status of a tracked investigation.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Engine runs investigations and tracks their lifecycle.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	resolver *credentials.Resolver
	reasoner agent.Reasoner
	audit    audit.Logger
	logger   *zap.Logger
	broker   *Broker

	mu      sync.RWMutex
	running map[string]*runState
	wg      sync.WaitGroup
}

// runState tracks one in-flight investigation. phase and iteration are
// snapshots taken from loop events, so Get never reads the loop's own
// mutable state.
type runState struct {
	cancel context.CancelFunc

	mu            sync.Mutex
	phase         agent.Phase
	iteration     int
	maxIterations int
}

func (rs *runState) observe(ev agent.Event) {
	rs.mu.Lock()
	rs.phase = ev.Phase
	rs.iteration = ev.Iteration
	rs.mu.Unlock()
}

func (rs *runState) snapshot() (agent.Phase, int, int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.phase, rs.iteration, rs.maxIterations
}

// New creates an engine. auditLogger may be nil (a nop app logger is used).
func New(cfg *config.Config, s store.Store, resolver *credentials.Resolver, reasoner agent.Reasoner, auditLogger audit.Logger) *Engine {
	logger := zap.NewNop()
	if auditLogger != nil {
		logger = auditLogger.App()
	}
	return &Engine{
		cfg:      cfg,
		store:    s,
		resolver: resolver,
		reasoner: reasoner,
		audit:    auditLogger,
		logger:   logger,
		broker:   NewBroker(),
		running:  make(map[string]*runState),
	}
}

// Broker exposes the live event stream for the HTTP surface.
func (e *Engine) Broker() *Broker { return e.broker }

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// buildRegistry assembles the full tool catalog for one investigation:
// integration tools from resolved credentials plus the store-backed memory
// and runbook tools.
func (e *Engine) buildRegistry(ctx context.Context, orgID, investigationID string, creds *credentials.Set) (*tools.Registry, error) {
	if creds == nil {
		var err error
		creds, err = e.resolver.GetAll(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
	}

	r := tools.NewRegistry(e.logger)
	runbook.New(e.store, orgID, investigationID).Register(r)
	memory.New(e.store, orgID).Register(r)
	github.New(creds.GitHub).Register(r)
	datadog.New(creds.Datadog).Register(r)
	slack.New(creds.Slack).Register(r)
	return r, nil
}

// RunInvestigation runs one investigation to completion and persists the
// outcome. creds may be nil to resolve through the configured providers.
func (e *Engine) RunInvestigation(ctx context.Context, investigationID, orgID string, alert agent.AlertContext, creds *credentials.Set) *agent.Result {
	if investigationID == "" {
		investigationID = uuid.NewString()
	}

	inv := agent.NewInvestigation(investigationID, orgID, alert, e.cfg.Agent.MaxIterations, e.cfg.Agent.DeploymentsCap)

	if e.audit != nil {
		e.audit.LogInvestigationStarted(ctx, investigationID, orgID, alert.Service, alert.Severity)
	}
	e.savePending(ctx, inv)

	registry, err := e.buildRegistry(ctx, orgID, investigationID, creds)
	if err != nil {
		result := &agent.Result{Success: false, Error: err.Error()}
		e.finish(ctx, inv, result)
		return result
	}

	loop := agent.NewLoop(e.reasoner, registry, e.logger,
		agent.WithParallelTools(e.cfg.Agent.ParallelTools),
		agent.WithEventSink(e.broker.Publish),
	)

	if ttl := e.cfg.Agent.InvestigationTTL; ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ttl)*time.Second)
		defer cancel()
	}

	result := loop.Run(ctx, inv)
	e.finish(ctx, inv, result)
	return result
}

// Start launches an investigation asynchronously and returns its ID.
func (e *Engine) Start(orgID string, alert agent.AlertContext) string {
	investigationID := uuid.NewString()
	inv := agent.NewInvestigation(investigationID, orgID, alert, e.cfg.Agent.MaxIterations, e.cfg.Agent.DeploymentsCap)

	runCtx, cancel := context.WithCancel(context.Background())
	state := &runState{
		cancel:        cancel,
		phase:         inv.Phase,
		maxIterations: inv.MaxIterations,
	}

	e.mu.Lock()
	e.running[investigationID] = state
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		if e.audit != nil {
			e.audit.LogInvestigationStarted(runCtx, investigationID, orgID, alert.Service, alert.Severity)
		}
		e.savePending(runCtx, inv)

		registry, err := e.buildRegistry(runCtx, orgID, investigationID, nil)
		if err != nil {
			e.finish(runCtx, inv, &agent.Result{Success: false, Error: err.Error()})
			e.clearRunning(investigationID)
			return
		}

		loop := agent.NewLoop(e.reasoner, registry, e.logger,
			agent.WithParallelTools(e.cfg.Agent.ParallelTools),
			agent.WithEventSink(func(ev agent.Event) {
				state.observe(ev)
				e.broker.Publish(ev)
			}),
		)

		ctx := runCtx
		if ttl := e.cfg.Agent.InvestigationTTL; ttl > 0 {
			var ttlCancel context.CancelFunc
			ctx, ttlCancel = context.WithTimeout(runCtx, time.Duration(ttl)*time.Second)
			defer ttlCancel()
		}

		result := loop.Run(ctx, inv)
		e.finish(context.Background(), inv, result)
		e.clearRunning(investigationID)
	}()

	return investigationID
}

// Cancel aborts a running investigation. Returns false when the ID is not
// currently running.
func (e *Engine) Cancel(investigationID string) bool {
	e.mu.RLock()
	state, ok := e.running[investigationID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	state.cancel()
	if e.audit != nil {
		e.audit.LogInvestigationCancelled(context.Background(), investigationID)
	}
	return true
}

// Get returns the stored record for an investigation. Running investigations
// are reported with a live snapshot of phase and iteration.
func (e *Engine) Get(ctx context.Context, orgID, investigationID string) (*store.IncidentRecord, error) {
	rec, err := e.store.GetIncident(ctx, orgID, investigationID)
	if err != nil || rec == nil {
		return rec, err
	}

	e.mu.RLock()
	state, running := e.running[investigationID]
	e.mu.RUnlock()
	if running {
		phase, iteration, max := state.snapshot()
		rec.Status = StatusRunning
		rec.Summary = fmt.Sprintf("phase=%s iteration=%d/%d", phase, iteration, max)
	}
	return rec, nil
}

// List returns recent investigations for an organization.
func (e *Engine) List(ctx context.Context, orgID string, limit, offset int) ([]*store.IncidentRecord, error) {
	return e.store.ListIncidents(ctx, orgID, limit, offset)
}

// SetFeedback records a thumbs-up/down rating on a completed investigation.
func (e *Engine) SetFeedback(ctx context.Context, orgID, investigationID string, rating int) error {
	return e.store.SetIncidentFeedback(ctx, orgID, investigationID, rating)
}

// Shutdown waits for in-flight investigations to finish or the context to
// expire, cancelling whatever is still running.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.mu.RLock()
		for _, state := range e.running {
			state.cancel()
		}
		e.mu.RUnlock()
		<-done
	}
}

func (e *Engine) clearRunning(investigationID string) {
	e.mu.Lock()
	delete(e.running, investigationID)
	e.mu.Unlock()
}

// savePending writes the initial running record so the investigation is
// visible to the HTTP surface immediately.
func (e *Engine) savePending(ctx context.Context, inv *agent.Investigation) {
	rec := &store.IncidentRecord{
		ID:               inv.ID,
		OrgID:            inv.OrgID,
		Service:          inv.Alert.Service,
		AlertName:        inv.Alert.AlertName,
		Severity:         inv.Alert.Severity,
		Status:           StatusRunning,
		SuggestedActions: "[]",
		Findings:         "[]",
		DeploymentsFound: "[]",
		CreatedAt:        inv.StartedAt,
		StartedAt:        inv.StartedAt,
	}
	if err := e.store.SaveIncident(ctx, rec); err != nil {
		e.logger.Warn("failed to save pending investigation",
			zap.String("investigation_id", inv.ID), zap.Error(err))
	}
}

// finish persists the terminal record and emits audit events.
func (e *Engine) finish(ctx context.Context, inv *agent.Investigation, result *agent.Result) {
	now := time.Now().UTC()
	rec := &store.IncidentRecord{
		ID:               inv.ID,
		OrgID:            inv.OrgID,
		Service:          inv.Alert.Service,
		AlertName:        inv.Alert.AlertName,
		Severity:         inv.Alert.Severity,
		Summary:          result.Summary,
		RootCause:        extractRootCause(result.Summary),
		SuggestedActions: "[]",
		Findings:         "[]",
		DeploymentsFound: marshalDeployments(result.DeploymentsFound),
		CreatedAt:        inv.StartedAt,
		StartedAt:        inv.StartedAt,
		CompletedAt:      now,
		DurationMs:       result.DurationMs,
	}

	if result.Success {
		rec.Status = StatusCompleted
		if e.audit != nil {
			e.audit.LogInvestigationCompleted(ctx, inv.ID, string(result.FinalPhase),
				time.Duration(result.DurationMs)*time.Millisecond)
		}
	} else {
		rec.Status = StatusFailed
		rec.Summary = result.Error
		if e.audit != nil {
			e.audit.LogInvestigationFailed(ctx, inv.ID, fmt.Errorf("%s", result.Error))
		}
	}

	if err := e.store.SaveIncident(ctx, rec); err != nil {
		e.logger.Error("failed to persist investigation result",
			zap.String("investigation_id", inv.ID), zap.Error(err))
	}
}

// extractRootCause pulls a "Root cause: ..." line out of the summary, if the
// model produced one.
func extractRootCause(summary string) string {
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "root cause:") {
			return strings.TrimSpace(trimmed[len("root cause:"):])
		}
	}
	return ""
}

func marshalDeployments(deployments []agent.Deployment) string {
	if len(deployments) == 0 {
		return "[]"
	}
	data, err := json.Marshal(deployments)
	if err != nil {
		return "[]"
	}
	return string(data)
}
