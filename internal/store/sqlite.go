package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS investigations (
    id                TEXT PRIMARY KEY,
    org_id            TEXT NOT NULL DEFAULT '',
    service           TEXT NOT NULL DEFAULT '',
    alert_name        TEXT NOT NULL DEFAULT '',
    severity          TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    summary           TEXT NOT NULL DEFAULT '',
    root_cause        TEXT NOT NULL DEFAULT '',
    confidence_score  REAL NOT NULL DEFAULT 0.0,
    suggested_actions TEXT NOT NULL DEFAULT '[]',
    findings          TEXT NOT NULL DEFAULT '[]',
    deployments_found TEXT NOT NULL DEFAULT '[]',
    created_at        DATETIME NOT NULL,
    started_at        DATETIME NOT NULL,
    completed_at      DATETIME NOT NULL,
    duration_ms       INTEGER NOT NULL DEFAULT 0,
    feedback_rating   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_investigations_org ON investigations(org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_investigations_service ON investigations(org_id, service, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(status);
`,
	},
	// Migration 2: runbooks + runbook_executions
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS runbooks (
    id                        TEXT PRIMARY KEY,
    org_id                    TEXT NOT NULL DEFAULT '',
    name                      TEXT NOT NULL,
    description               TEXT NOT NULL DEFAULT '',
    enabled                   BOOLEAN NOT NULL DEFAULT 1,
    trigger_type              TEXT NOT NULL DEFAULT 'alert_pattern',
    trigger_config            TEXT NOT NULL DEFAULT '{}',
    investigation_steps       TEXT NOT NULL DEFAULT '[]',
    if_found_actions          TEXT NOT NULL DEFAULT '{}',
    priority                  INTEGER NOT NULL DEFAULT 100,
    times_triggered           INTEGER NOT NULL DEFAULT 0,
    avg_resolution_confidence REAL NOT NULL DEFAULT 0.0,
    last_triggered_at         DATETIME,
    created_at                DATETIME NOT NULL,
    updated_at                DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runbooks_org ON runbooks(org_id, enabled, priority ASC);

CREATE TABLE IF NOT EXISTS runbook_executions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    runbook_id        TEXT NOT NULL REFERENCES runbooks(id) ON DELETE CASCADE,
    org_id            TEXT NOT NULL DEFAULT '',
    investigation_id  TEXT NOT NULL DEFAULT '',
    trigger_source    TEXT NOT NULL DEFAULT 'agent',
    status            TEXT NOT NULL DEFAULT 'completed',
    steps_executed    INTEGER NOT NULL DEFAULT 0,
    findings          TEXT NOT NULL DEFAULT '',
    conclusion        TEXT NOT NULL DEFAULT '',
    matched_condition TEXT NOT NULL DEFAULT '',
    confidence_score  REAL NOT NULL DEFAULT 0.0,
    created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runbook_executions_runbook ON runbook_executions(runbook_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runbook_executions_investigation ON runbook_executions(investigation_id);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Incidents ────────────────────────────────────────────────────────────────

const incidentColumns = `id,org_id,service,alert_name,severity,status,summary,root_cause,confidence_score,suggested_actions,findings,deployments_found,created_at,started_at,completed_at,duration_ms,feedback_rating`

func (s *sqliteStore) SaveIncident(ctx context.Context, rec *IncidentRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO investigations(`+incidentColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status            = excluded.status,
            summary           = excluded.summary,
            root_cause        = excluded.root_cause,
            confidence_score  = excluded.confidence_score,
            suggested_actions = excluded.suggested_actions,
            findings          = excluded.findings,
            deployments_found = excluded.deployments_found,
            completed_at      = excluded.completed_at,
            duration_ms       = excluded.duration_ms
    `,
		rec.ID, rec.OrgID, rec.Service, rec.AlertName, rec.Severity, rec.Status,
		rec.Summary, rec.RootCause, rec.ConfidenceScore, rec.SuggestedActions,
		rec.Findings, rec.DeploymentsFound,
		rec.CreatedAt.UTC(), rec.StartedAt.UTC(), rec.CompletedAt.UTC(),
		rec.DurationMs, rec.FeedbackRating,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetIncident(ctx context.Context, orgID, id string) (*IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM investigations WHERE org_id=? AND id=?`, orgID, id)
	rec, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) GetIncidentByPrefix(ctx context.Context, orgID, prefix string) (*IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM investigations
         WHERE org_id=? AND id LIKE ? ORDER BY created_at DESC LIMIT 1`,
		orgID, prefix+"%")
	rec, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident by prefix: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListIncidents(ctx context.Context, orgID string, limit, offset int) ([]*IncidentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM investigations
         WHERE org_id=? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *sqliteStore) ListIncidentsByService(ctx context.Context, orgID, service string, limit int) ([]*IncidentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM investigations
         WHERE org_id=? AND service=? ORDER BY created_at DESC LIMIT ?`,
		orgID, service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *sqliteStore) SearchIncidents(ctx context.Context, orgID, query string, limit int) ([]*IncidentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM investigations
         WHERE org_id=? AND (alert_name LIKE ? OR service LIKE ? OR summary LIKE ? OR root_cause LIKE ?)
         ORDER BY created_at DESC LIMIT ?`,
		orgID, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *sqliteStore) SetIncidentFeedback(ctx context.Context, orgID, id string, rating int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigations SET feedback_rating=? WHERE org_id=? AND id=?`, rating, orgID, id)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*IncidentRecord, error) {
	rec := &IncidentRecord{}
	var createdAt, startedAt, completedAt string
	err := row.Scan(&rec.ID, &rec.OrgID, &rec.Service, &rec.AlertName, &rec.Severity,
		&rec.Status, &rec.Summary, &rec.RootCause, &rec.ConfidenceScore,
		&rec.SuggestedActions, &rec.Findings, &rec.DeploymentsFound,
		&createdAt, &startedAt, &completedAt, &rec.DurationMs, &rec.FeedbackRating)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.StartedAt, _ = parseTime(startedAt)
	rec.CompletedAt, _ = parseTime(completedAt)
	return rec, nil
}

func collectIncidents(rows *sql.Rows) ([]*IncidentRecord, error) {
	var result []*IncidentRecord
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Runbooks ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveRunbook(ctx context.Context, rec *RunbookRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runbooks(id, org_id, name, description, enabled, trigger_type, trigger_config,
                             investigation_steps, if_found_actions, priority, times_triggered,
                             avg_resolution_confidence, last_triggered_at, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            name                = excluded.name,
            description         = excluded.description,
            enabled             = excluded.enabled,
            trigger_type        = excluded.trigger_type,
            trigger_config      = excluded.trigger_config,
            investigation_steps = excluded.investigation_steps,
            if_found_actions    = excluded.if_found_actions,
            priority            = excluded.priority,
            updated_at          = excluded.updated_at
    `,
		rec.ID, rec.OrgID, rec.Name, rec.Description, rec.Enabled, rec.TriggerType,
		rec.TriggerConfig, rec.InvestigationSteps, rec.IfFoundActions, rec.Priority,
		rec.TimesTriggered, rec.AvgResolutionConfidence,
		nullableTime(rec.LastTriggeredAt), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert runbook: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetRunbook(ctx context.Context, orgID, id string) (*RunbookRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, org_id, name, description, enabled, trigger_type, trigger_config,
               investigation_steps, if_found_actions, priority, times_triggered,
               avg_resolution_confidence, last_triggered_at, created_at, updated_at
        FROM runbooks WHERE org_id=? AND id=?`, orgID, id)
	rec, err := scanRunbook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListRunbooks(ctx context.Context, orgID string, enabledOnly bool) ([]*RunbookRecord, error) {
	query := `
        SELECT id, org_id, name, description, enabled, trigger_type, trigger_config,
               investigation_steps, if_found_actions, priority, times_triggered,
               avg_resolution_confidence, last_triggered_at, created_at, updated_at
        FROM runbooks WHERE org_id=?`
	args := []any{orgID}
	if enabledOnly {
		query += ` AND enabled=1`
	}
	query += ` ORDER BY priority ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunbookRecord
	for rows.Next() {
		rec, err := scanRunbook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) RecordRunbookExecution(ctx context.Context, rec *RunbookExecutionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO runbook_executions(runbook_id, org_id, investigation_id, trigger_source,
                                       status, steps_executed, findings, conclusion,
                                       matched_condition, confidence_score, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.RunbookID, rec.OrgID, rec.InvestigationID, rec.TriggerSource,
		rec.Status, rec.StepsExecuted, rec.Findings, rec.Conclusion,
		rec.MatchedCondition, rec.ConfidenceScore, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	rec.ID, _ = res.LastInsertId()

	// Rolling average over all executions keeps the runbook's score honest
	// without re-reading the execution history on every match.
	_, err = tx.ExecContext(ctx, `
        UPDATE runbooks SET
            times_triggered = times_triggered + 1,
            avg_resolution_confidence =
                (avg_resolution_confidence * times_triggered + ?) / (times_triggered + 1),
            last_triggered_at = ?
        WHERE id=?
    `, rec.ConfidenceScore, createdAt.UTC(), rec.RunbookID)
	if err != nil {
		return fmt.Errorf("update runbook stats: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) ListRunbookExecutions(ctx context.Context, orgID, runbookID string, limit int) ([]*RunbookExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, runbook_id, org_id, investigation_id, trigger_source, status,
               steps_executed, findings, conclusion, matched_condition, confidence_score, created_at
        FROM runbook_executions
        WHERE org_id=? AND runbook_id=? ORDER BY created_at DESC LIMIT ?`,
		orgID, runbookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunbookExecutionRecord
	for rows.Next() {
		rec := &RunbookExecutionRecord{}
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.RunbookID, &rec.OrgID, &rec.InvestigationID,
			&rec.TriggerSource, &rec.Status, &rec.StepsExecuted, &rec.Findings,
			&rec.Conclusion, &rec.MatchedCondition, &rec.ConfidenceScore, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanRunbook(row rowScanner) (*RunbookRecord, error) {
	rec := &RunbookRecord{}
	var lastTriggered sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.OrgID, &rec.Name, &rec.Description, &rec.Enabled,
		&rec.TriggerType, &rec.TriggerConfig, &rec.InvestigationSteps, &rec.IfFoundActions,
		&rec.Priority, &rec.TimesTriggered, &rec.AvgResolutionConfidence,
		&lastTriggered, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		rec.LastTriggeredAt, _ = parseTime(lastTriggered.String)
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
