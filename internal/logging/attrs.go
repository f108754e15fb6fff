package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// StoryID, Stage and Worker build the attributes the console subject and
// ContextFields key on.
func StoryID(id int64) Attr { return slog.Int64(FieldStoryID, id) }

func Stage(stage string) Attr { return slog.String(FieldStage, stage) }

func Worker(id string) Attr { return slog.String(FieldWorker, id) }

// Error records err under "error"; a nil error is still visible in the line.
func Error(err error) Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.Any(FieldError, err)
}

// Args adapts a built-up attribute slice to slog's variadic methods.
func Args(attrs []Attr) []any {
	out := make([]any, len(attrs))
	for i := range attrs {
		out[i] = attrs[i]
	}
	return out
}

// NewNop returns a logger whose handler discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags every record from the returned logger with
// component. A nil base logger yields a silent one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}
