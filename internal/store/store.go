package store

import (
	"context"
	"time"
)

// Store is the persistence interface for the incident agent.
type Store interface {
	IncidentStore
	RunbookStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Incident store ───────────────────────────────────────────────────────────

// IncidentRecord is the DB representation of a completed (or in-flight)
// investigation. JSON-blob columns hold structures the reasoning layer owns.
type IncidentRecord struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"org_id"`
	Service          string    `json:"service"`
	AlertName        string    `json:"alert_name"`
	Severity         string    `json:"severity"`
	Status           string    `json:"status"` // pending | running | completed | failed
	Summary          string    `json:"summary"`
	RootCause        string    `json:"root_cause"`
	ConfidenceScore  float64   `json:"confidence_score"`
	SuggestedActions string    `json:"suggested_actions"` // JSON array
	Findings         string    `json:"findings"`          // JSON array
	DeploymentsFound string    `json:"deployments_found"` // JSON array
	CreatedAt        time.Time `json:"created_at"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMs       int64     `json:"duration_ms"`
	// FeedbackRating: 0 = no feedback, 1 = helpful, -1 = not helpful.
	FeedbackRating int `json:"feedback_rating"`
}

// IncidentStore persists investigation outcomes, which is what gives the
// memory tools their history.
type IncidentStore interface {
	// SaveIncident creates or updates an incident record.
	SaveIncident(ctx context.Context, rec *IncidentRecord) error

	// GetIncident retrieves an incident by exact ID.
	// Returns nil, nil when not found.
	GetIncident(ctx context.Context, orgID, id string) (*IncidentRecord, error)

	// GetIncidentByPrefix retrieves the most recent incident whose ID starts
	// with the given prefix. Returns nil, nil when nothing matches.
	GetIncidentByPrefix(ctx context.Context, orgID, prefix string) (*IncidentRecord, error)

	// ListIncidents returns incidents for an org, newest first.
	ListIncidents(ctx context.Context, orgID string, limit, offset int) ([]*IncidentRecord, error)

	// ListIncidentsByService returns incidents for one service, newest first.
	ListIncidentsByService(ctx context.Context, orgID, service string, limit int) ([]*IncidentRecord, error)

	// SearchIncidents returns incidents whose alert name, service, summary, or
	// root cause matches the query substring, newest first.
	SearchIncidents(ctx context.Context, orgID, query string, limit int) ([]*IncidentRecord, error)

	// SetIncidentFeedback records a thumbs-up/down rating on an incident.
	SetIncidentFeedback(ctx context.Context, orgID, id string, rating int) error
}

// ─── Runbook store ────────────────────────────────────────────────────────────

// RunbookRecord is a stored investigation runbook.
type RunbookRecord struct {
	ID                      string    `json:"id"`
	OrgID                   string    `json:"org_id"`
	Name                    string    `json:"name"`
	Description             string    `json:"description"`
	Enabled                 bool      `json:"enabled"`
	TriggerType             string    `json:"trigger_type"`   // alert_pattern | manual
	TriggerConfig           string    `json:"trigger_config"` // JSON: pattern, severities, services
	InvestigationSteps      string    `json:"investigation_steps"` // JSON array
	IfFoundActions          string    `json:"if_found_actions"`    // JSON: condition → actions
	Priority                int       `json:"priority"`
	TimesTriggered          int       `json:"times_triggered"`
	AvgResolutionConfidence float64   `json:"avg_resolution_confidence"`
	LastTriggeredAt         time.Time `json:"last_triggered_at"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// RunbookExecutionRecord records one runbook run against an investigation.
type RunbookExecutionRecord struct {
	ID               int64     `json:"id"`
	RunbookID        string    `json:"runbook_id"`
	OrgID            string    `json:"org_id"`
	InvestigationID  string    `json:"investigation_id"`
	TriggerSource    string    `json:"trigger_source"` // agent | manual | schedule
	Status           string    `json:"status"`         // completed | partial | failed
	StepsExecuted    int       `json:"steps_executed"`
	Findings         string    `json:"findings"`
	Conclusion       string    `json:"conclusion"`
	MatchedCondition string    `json:"matched_condition"`
	ConfidenceScore  float64   `json:"confidence_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// RunbookStore persists runbooks and their execution history.
type RunbookStore interface {
	// SaveRunbook creates or updates a runbook.
	SaveRunbook(ctx context.Context, rec *RunbookRecord) error

	// GetRunbook retrieves a runbook by ID. Returns nil, nil when not found.
	GetRunbook(ctx context.Context, orgID, id string) (*RunbookRecord, error)

	// ListRunbooks returns runbooks for an org ordered by priority ascending.
	// When enabledOnly is set, disabled runbooks are excluded.
	ListRunbooks(ctx context.Context, orgID string, enabledOnly bool) ([]*RunbookRecord, error)

	// RecordRunbookExecution appends an execution row and bumps the runbook's
	// trigger count and rolling confidence average.
	RecordRunbookExecution(ctx context.Context, rec *RunbookExecutionRecord) error

	// ListRunbookExecutions returns executions for a runbook, newest first.
	ListRunbookExecutions(ctx context.Context, orgID, runbookID string, limit int) ([]*RunbookExecutionRecord, error)
}
