package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyMeetingID ctxKey = "meeting_id"
)

// basic global logger, JSON to stdout.
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func Logger() *slog.Logger {
	return logger
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// WithMeetingID stores a meeting_id in the context, so every log line an
// orchestrator run emits carries it without threading it through every
// call.
func WithMeetingID(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, ctxKeyMeetingID, meetingID)
}

// LoggerFromContext adds request_id / meeting_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	l := logger
	if reqID, ok := ctx.Value(ctxKeyRequestID).(string); ok && reqID != "" {
		l = l.With("request_id", reqID)
	}
	if meetingID, ok := ctx.Value(ctxKeyMeetingID).(string); ok && meetingID != "" {
		l = l.With("meeting_id", meetingID)
	}
	return l
}
