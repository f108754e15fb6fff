package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Structured keys shared by every handler. The console subject is built from
// FieldComponent, FieldStoryID and FieldStage.
const (
	FieldComponent     = "component"
	FieldStoryID       = "story_id"
	FieldStage         = "stage"
	FieldWorker        = "worker"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldError         = "error"
)

type contextKey string

const (
	storyIDKey   contextKey = "story_id"
	stageKey     contextKey = "stage"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithStoryID annotates ctx with the story being processed.
func WithStoryID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, storyIDKey, id)
}

// WithStage annotates ctx with the pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, strings.TrimSpace(stage))
}

// WithWorker annotates ctx with the worker identity.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerKey, strings.TrimSpace(worker))
}

// WithRequestID annotates ctx with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(id))
}

// StoryIDFromContext returns the story id stored in ctx.
func StoryIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(storyIDKey).(int64)
	return id, ok && id > 0
}

// RequestIDFromContext returns the correlation id stored in ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := StoryIDFromContext(ctx); ok {
		fields = append(fields, StoryID(id))
	}
	if stage, ok := stringFromContext(ctx, stageKey); ok {
		fields = append(fields, Stage(stage))
	}
	if worker, ok := stringFromContext(ctx, workerKey); ok {
		fields = append(fields, Worker(worker))
	}
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		args = append(args, field)
	}
	return logger.With(args...)
}
