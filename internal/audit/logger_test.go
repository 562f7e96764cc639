package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	tmpDir := t.TempDir()
	return &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		MaxSize:      10,
		MaxBackups:   3,
		LogLevel:     "info",
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(testConfig(t))
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.App() == nil {
		t.Fatal("Expected app logger to be non-nil")
	}
}

func TestNewLoggerWithInvalidLevel(t *testing.T) {
	config := testConfig(t)
	config.LogLevel = "invalid"

	_, err := NewLogger(config)
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}

	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected 'invalid log level' error, got: %v", err)
	}
}

func TestNewLoggerWithInvalidFormat(t *testing.T) {
	config := testConfig(t)
	config.Format = "xml"

	_, err := NewLogger(config)
	if err == nil {
		t.Fatal("Expected error for invalid log format")
	}

	if !strings.Contains(err.Error(), "invalid log format") {
		t.Errorf("Expected 'invalid log format' error, got: %v", err)
	}
}

func TestTextFormatAppLog(t *testing.T) {
	config := testConfig(t)
	config.Format = "text"

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.App().Info("console encoding check")

	if err := logger.LogInvestigationStarted(context.Background(), "inv-fmt", "org-1", "checkout", "high"); err != nil {
		t.Fatalf("LogInvestigationStarted failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	appContent, err := os.ReadFile(config.AppLogPath)
	if err != nil {
		t.Fatalf("Failed to read app log: %v", err)
	}

	appLine := strings.TrimSpace(string(appContent))
	if !strings.Contains(appLine, "console encoding check") {
		t.Error("App log does not contain the logged message")
	}

	if strings.HasPrefix(appLine, "{") {
		t.Error("App log is JSON despite text format")
	}

	// The audit stream stays JSON regardless of the app format.
	auditContent, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	auditLine := strings.TrimSpace(string(auditContent))
	if !strings.HasPrefix(auditLine, "{") {
		t.Error("Audit log is not JSON")
	}
}

func TestLogInvestigationLifecycle(t *testing.T) {
	config := testConfig(t)

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	investigationID := "inv-456"

	if err := logger.LogInvestigationStarted(ctx, investigationID, "org-1", "checkout", "critical"); err != nil {
		t.Fatalf("LogInvestigationStarted failed: %v", err)
	}

	if err := logger.LogInvestigationCompleted(ctx, investigationID, "conclusion", 5*time.Second); err != nil {
		t.Fatalf("LogInvestigationCompleted failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, investigationID) {
		t.Error("Log does not contain investigation ID")
	}

	if !strings.Contains(logContent, "investigation.started") {
		t.Error("Log does not contain started event")
	}

	if !strings.Contains(logContent, "investigation.completed") {
		t.Error("Log does not contain completed event")
	}

	if !strings.Contains(logContent, "checkout") {
		t.Error("Log does not contain service name")
	}
}

func TestLogInvestigationFailed(t *testing.T) {
	config := testConfig(t)

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if err := logger.LogInvestigationFailed(context.Background(), "inv-789", errors.New("provider unavailable")); err != nil {
		t.Fatalf("LogInvestigationFailed failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "investigation.failed") {
		t.Error("Log does not contain failed event")
	}

	if !strings.Contains(logContent, "provider unavailable") {
		t.Error("Log does not contain error message")
	}
}

func TestLogToolDispatched(t *testing.T) {
	config := testConfig(t)

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	if err := logger.LogToolDispatched(ctx, "inv-1", "search_logs", true, 200*time.Millisecond); err != nil {
		t.Fatalf("LogToolDispatched failed: %v", err)
	}

	if err := logger.LogToolDispatched(ctx, "inv-1", "query_metrics", false, 50*time.Millisecond); err != nil {
		t.Fatalf("LogToolDispatched failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "tool.dispatched") {
		t.Error("Log does not contain dispatched event")
	}

	if !strings.Contains(logContent, "tool.failed") {
		t.Error("Log does not contain failed event")
	}

	if !strings.Contains(logContent, "search_logs") {
		t.Error("Log does not contain tool name")
	}
}

func TestBufferAutoFlush(t *testing.T) {
	config := testConfig(t)

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := NewEvent(EventHealthCheck).
			WithCorrelationID("test").
			WithResult(ResultSuccess)

		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Wait for auto-flush (1 second ticker)
	time.Sleep(1500 * time.Millisecond)

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	if len(content) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == id2 {
		t.Error("Generated correlation IDs should be unique")
	}

	ctx := context.Background()

	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	if id := GetCorrelationID(ctx); id != "test-correlation-id" {
		t.Errorf("Expected 'test-correlation-id', got %s", id)
	}
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventToolDispatched).
		WithCorrelationID("corr-123").
		WithOrg("org-1").
		WithService("payments", "high").
		WithTool("get_recent_deployments").
		WithPhase("changes").
		WithDescription("Checking recent deployments").
		WithResult(ResultSuccess).
		WithDuration(3 * time.Second).
		WithMetadata("repo", "acme/payments")

	if event.CorrelationID != "corr-123" {
		t.Errorf("Expected correlation ID 'corr-123', got %s", event.CorrelationID)
	}

	if event.Service != "payments" {
		t.Errorf("Expected service 'payments', got %s", event.Service)
	}

	if event.Tool != "get_recent_deployments" {
		t.Errorf("Expected tool 'get_recent_deployments', got %s", event.Tool)
	}

	if event.Phase != "changes" {
		t.Errorf("Expected phase 'changes', got %s", event.Phase)
	}

	if event.DurationMs != 3000 {
		t.Errorf("Expected duration 3000ms, got %d", event.DurationMs)
	}

	if repo, ok := event.Metadata["repo"].(string); !ok || repo != "acme/payments" {
		t.Errorf("Expected metadata repo 'acme/payments', got %v", event.Metadata["repo"])
	}
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventInvestigationStarted).
		WithCorrelationID("inv-789").
		WithOrg("org-2").
		WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.CorrelationID != "inv-789" {
		t.Errorf("Expected correlation ID 'inv-789', got %s", decoded.CorrelationID)
	}

	if decoded.OrgID != "org-2" {
		t.Errorf("Expected org 'org-2', got %s", decoded.OrgID)
	}

	if decoded.EventType != EventInvestigationStarted {
		t.Errorf("Expected event type 'investigation.started', got %s", decoded.EventType)
	}
}
