package logging

import (
	"context"
	"log/slog"
	"strings"
)

const stageLevelsKey = "_stage_levels"

// stageLevels rides along as a logger attribute so ForStage can find the
// overrides without a global registry. It never reaches the output handler.
type stageLevels map[string]string

// levelOverrideHandler enforces a per-logger minimum level while delegating
// output to the wrapped handler, which runs at the most verbose level needed.
type levelOverrideHandler struct {
	next   slog.Handler
	level  slog.Level
	stages stageLevels
}

func newLevelOverrideHandler(next slog.Handler, level slog.Level) slog.Handler {
	if next == nil {
		return slog.DiscardHandler
	}
	return &levelOverrideHandler{next: next, level: level}
}

func (h *levelOverrideHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.level {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h *levelOverrideHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *levelOverrideHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	stages := h.stages
	kept := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Key != stageLevelsKey {
			kept = append(kept, attr)
			continue
		}
		if levels, ok := attr.Value.Any().(stageLevels); ok {
			stages = levels
		}
	}
	return &levelOverrideHandler{next: h.next.WithAttrs(kept), level: h.level, stages: stages}
}

func (h *levelOverrideHandler) WithGroup(name string) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithGroup(name), level: h.level, stages: h.stages}
}

func (h *levelOverrideHandler) cloneWithLevel(level slog.Level) slog.Handler {
	return &levelOverrideHandler{next: h.next, level: level, stages: h.stages}
}

// WithLevelOverride returns a logger that enforces the provided minimum level
// while preserving existing attributes and handler wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if h, ok := logger.Handler().(*levelOverrideHandler); ok {
		return slog.New(h.cloneWithLevel(level))
	}
	return slog.New(newLevelOverrideHandler(logger.Handler(), level))
}

// ForStage tags the logger with the stage name and applies any configured
// per-stage level override.
func ForStage(logger *slog.Logger, stage string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if h, ok := logger.Handler().(*levelOverrideHandler); ok {
		if level, found := h.stages[stage]; found && strings.TrimSpace(level) != "" {
			logger = WithLevelOverride(logger, parseLevel(level))
		}
	}
	return logger.With(String(FieldStage, stage))
}
