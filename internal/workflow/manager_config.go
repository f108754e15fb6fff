package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"storyforge/internal/config"
	"storyforge/internal/logging"
	"storyforge/internal/stage"
	"storyforge/internal/stageexec"
	"storyforge/internal/stages"
)

type lane struct {
	stage   stages.Stage
	handler stage.Handler
	workers int
	logger  *slog.Logger
}

// ConfigureStages registers the handler for each stage the manager should
// work. Every stage must be declared in the store's stage table and have
// outgoing edges.
func (m *Manager) ConfigureStages(handlers map[stages.Stage]stage.Handler) error {
	if len(handlers) == 0 {
		return errors.New("no stage handlers configured")
	}
	reg := m.store.Registry()
	names := make([]stages.Stage, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	slices.Sort(names)

	lanes := make([]*lane, 0, len(names))
	for _, name := range names {
		handler := handlers[name]
		if handler == nil {
			return fmt.Errorf("stage %s: handler is nil", name)
		}
		md, err := reg.MetadataFor(name)
		if err != nil {
			return err
		}
		if md.Terminal() {
			return fmt.Errorf("stage %s: %w", name, stages.ErrNoTransitions)
		}
		logger := logging.ForStage(m.logger, string(md.Stage))
		if aware, ok := handler.(stage.LoggerAware); ok {
			aware.SetLogger(logger)
		}
		lanes = append(lanes, &lane{
			stage:   md.Stage,
			handler: handler,
			workers: max(m.cfg.WorkersFor(string(md.Stage)), 1),
			logger:  logger,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("cannot reconfigure a running workflow")
	}
	m.lanes = lanes
	return nil
}

// CommandHandlers builds an external command handler for every stage listed
// in the config.
func CommandHandlers(cfg *config.Config) map[stages.Stage]stage.Handler {
	handlers := make(map[stages.Stage]stage.Handler, len(cfg.Stages))
	for name, cmd := range cfg.Stages {
		handlers[stages.Stage(name)] = stageexec.NewCommand(stages.Stage(name), cmd)
	}
	return handlers
}
