package workflow

import (
	"context"

	"storyforge/internal/logging"
	"storyforge/internal/stage"
	"storyforge/internal/stages"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                          `json:"running"`
	WorkerID    string                        `json:"worker_id"`
	LastError   string                        `json:"last_error,omitempty"`
	LastStoryID int64                         `json:"last_story_id,omitempty"`
	Succeeded   int                           `json:"succeeded"`
	Failed      int                           `json:"failed"`
	Workers     map[stages.Stage]int          `json:"workers"`
	StoryStats  map[stages.Stage]int          `json:"story_stats"`
	StageHealth map[stages.Stage]stage.Health `json:"stage_health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:     m.running,
		WorkerID:    m.workerID,
		LastStoryID: m.lastStory,
		Succeeded:   m.succeeded,
		Failed:      m.failed,
		Workers:     make(map[stages.Stage]int, len(m.lanes)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	lanes := append([]*lane(nil), m.lanes...)
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read story stats", logging.Error(err))
	}
	summary.StoryStats = stats

	summary.StageHealth = make(map[stages.Stage]stage.Health, len(lanes))
	for _, l := range lanes {
		summary.Workers[l.stage] = l.workers
		summary.StageHealth[l.stage] = l.handler.HealthCheck(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
