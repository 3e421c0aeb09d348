package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

type Logger struct {
	*slog.Logger
}

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ContextKey for correlation IDs
type contextKey string

const correlationIDKey contextKey = "correlation_id"

func NewLogger(level LogLevel) *Logger {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)

	return &Logger{Logger: logger}
}

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) == "" {
		correlationID := uuid.New().String()
		return context.WithValue(ctx, correlationIDKey, correlationID)
	}
	return ctx
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// Debug logs debug level messages with correlation ID
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	l.Logger.Debug(msg, args...)
}

// Info logs info level messages with correlation ID
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	l.Logger.Info(msg, args...)
}

// Warn logs warn level messages with correlation ID
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	l.Logger.Warn(msg, args...)
}

// Error logs error level messages with correlation ID
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	l.Logger.Error(msg, args...)
}

// LogCodeOperation logs code lifecycle operations without logging destinations
func (l *Logger) LogCodeOperation(ctx context.Context, operation, codeID string, success bool) {
	correlationID := GetCorrelationID(ctx)
	l.Logger.Info("code operation",
		"operation", operation,
		"code_id", codeID,
		"success", success,
		"correlation_id", correlationID,
	)
}

// LogURLValidation logs destination validation without the actual URL
func (l *Logger) LogURLValidation(ctx context.Context, valid bool, scheme string) {
	correlationID := GetCorrelationID(ctx)
	l.Logger.Debug("url validation",
		"valid", valid,
		"scheme", scheme, // Safe to log scheme
		"correlation_id", correlationID,
	)
}

// LogEnrichmentDegraded logs a failed geo/device lookup; never surfaced to callers
func (l *Logger) LogEnrichmentDegraded(ctx context.Context, reason string, err error) {
	correlationID := GetCorrelationID(ctx)
	l.Logger.Warn("enrichment degraded",
		"reason", reason,
		"error", errString(err),
		"correlation_id", correlationID,
	)
}

// LogIngestionFailure logs a dropped or failed scan-event write; never surfaced to callers
func (l *Logger) LogIngestionFailure(ctx context.Context, codeID, reason string, err error) {
	correlationID := GetCorrelationID(ctx)
	l.Logger.Error("scan ingestion failure",
		"code_id", codeID,
		"reason", reason,
		"error", errString(err),
		"correlation_id", correlationID,
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
