package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Investigation lifecycle events
	LogInvestigationStarted(ctx context.Context, investigationID, orgID, service, severity string) error
	LogInvestigationCompleted(ctx context.Context, investigationID, finalPhase string, duration time.Duration) error
	LogInvestigationFailed(ctx context.Context, investigationID string, err error) error
	LogInvestigationCancelled(ctx context.Context, investigationID string) error

	// Tool dispatch events
	LogToolDispatched(ctx context.Context, investigationID, tool string, ok bool, duration time.Duration) error

	// Notification events
	LogNotificationSent(ctx context.Context, investigationID, channel string) error

	// App returns the application logger for regular structured logging
	App() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string

	// Format selects the application log encoding: "json" or "text".
	// The audit log is always JSON so downstream consumers can parse it.
	Format string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
		Format:       "json",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var appEncoder zapcore.Encoder
	switch config.Format {
	case "", "json":
		appEncoder = zapcore.NewJSONEncoder(encoderConfig)
	case "text":
		appEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %s: must be json or text", config.Format)
	}

	// Application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		appEncoder,
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogInvestigationStarted logs when an investigation starts
func (l *auditLogger) LogInvestigationStarted(ctx context.Context, investigationID, orgID, service, severity string) error {
	event := NewEvent(EventInvestigationStarted).
		WithCorrelationID(investigationID).
		WithOrg(orgID).
		WithService(service, severity).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Investigation %s started for %s", investigationID, service))

	return l.Log(ctx, event)
}

// LogInvestigationCompleted logs when an investigation completes
func (l *auditLogger) LogInvestigationCompleted(ctx context.Context, investigationID, finalPhase string, duration time.Duration) error {
	event := NewEvent(EventInvestigationCompleted).
		WithCorrelationID(investigationID).
		WithPhase(finalPhase).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Investigation %s completed in phase %s", investigationID, finalPhase))

	return l.Log(ctx, event)
}

// LogInvestigationFailed logs when an investigation fails
func (l *auditLogger) LogInvestigationFailed(ctx context.Context, investigationID string, err error) error {
	event := NewEvent(EventInvestigationFailed).
		WithCorrelationID(investigationID).
		WithError(err, "investigation_error").
		WithDescription(fmt.Sprintf("Investigation %s failed", investigationID))

	return l.Log(ctx, event)
}

// LogInvestigationCancelled logs when an investigation is cancelled
func (l *auditLogger) LogInvestigationCancelled(ctx context.Context, investigationID string) error {
	event := NewEvent(EventInvestigationCancelled).
		WithCorrelationID(investigationID).
		WithResult(ResultFailure).
		WithDescription(fmt.Sprintf("Investigation %s cancelled", investigationID))

	return l.Log(ctx, event)
}

// LogToolDispatched logs a tool dispatch and its outcome
func (l *auditLogger) LogToolDispatched(ctx context.Context, investigationID, tool string, ok bool, duration time.Duration) error {
	result := ResultSuccess
	eventType := EventToolDispatched
	if !ok {
		result = ResultFailure
		eventType = EventToolFailed
	}

	event := NewEvent(eventType).
		WithCorrelationID(investigationID).
		WithTool(tool).
		WithResult(result).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Tool %s dispatched", tool))

	return l.Log(ctx, event)
}

// LogNotificationSent logs an outbound notification
func (l *auditLogger) LogNotificationSent(ctx context.Context, investigationID, channel string) error {
	event := NewEvent(EventNotificationSent).
		WithCorrelationID(investigationID).
		WithResult(ResultSuccess).
		WithMetadata("channel", channel).
		WithDescription(fmt.Sprintf("Notification sent to %s", channel))

	return l.Log(ctx, event)
}

// App returns the application logger
func (l *auditLogger) App() *zap.Logger {
	return l.appLogger
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	if err := l.Sync(); err != nil {
		return err
	}

	return nil
}

type correlationIDKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
