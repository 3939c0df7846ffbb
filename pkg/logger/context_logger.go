package logger

import (
	"context"

	"arenalink/internal/core/domain"
	"arenalink/pkg/tracing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogger enriches log entries with the session, subject and trace
// carried by a context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger carrying session_id, subject and trace_id when present.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := make([]zapcore.Field, 0, 3)

	if id, ok := domain.SessionIDFromContext(ctx); ok {
		fields = append(fields, zap.String("session_id", string(id)))
	}
	if identity, ok := domain.IdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("subject", identity.Subject))
	}
	if traceID := tracing.TraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) Sugared(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs a finished HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	)
}

func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}
