package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/logging"
	"storyforge/internal/notifications"
	"storyforge/internal/queue"
	"storyforge/internal/stageexec"
)

// Start runs preflight checks and launches the workers. It returns once the
// workers are running; use Done and Err to learn when and why they stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	running := m.running
	configured := len(m.lanes) > 0
	m.mu.RUnlock()
	if running {
		return errors.New("workflow already running")
	}
	if !configured {
		return errors.New("workflow stages not configured")
	}

	if err := m.runPreflightChecks(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.fatalErr = nil
	m.done = make(chan struct{})
	done := m.done

	workers := 0
	for _, l := range m.lanes {
		for range l.workers {
			workerID := fmt.Sprintf("%s/%d", m.workerID, workers)
			workers++
			m.wg.Add(1)
			go m.runWorker(runCtx, l, workerID)
		}
	}
	m.wg.Add(1)
	go m.runStatsLoop(runCtx)
	m.mu.Unlock()

	go func() {
		m.wg.Wait()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("stages", len(m.lanes)),
		logging.Int("workers", workers),
		logging.Worker(m.workerID),
	)
	if err := m.notifier.Publish(runCtx, notifications.EventRunStarted, notifications.Payload{"workers": workers}); err != nil {
		m.logger.Debug("start notification failed", logging.Error(err))
	}
	return nil
}

// Stop cancels the workers and waits for them to hand back their claims.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when every worker has exited, either after Stop or after a
// fatal error.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// Err returns the fatal error that stopped the workers, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr
}

func (m *Manager) runWorker(ctx context.Context, l *lane, workerID string) {
	defer m.wg.Done()
	logger := l.logger.With(logging.Worker(workerID))

	for {
		if ctx.Err() != nil {
			return
		}

		claim, err := m.selector.ClaimNext(ctx, l.stage, workerID, m.cfg.LeaseDuration())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if queue.IsFatal(err) {
				m.fail(err)
				return
			}
			if errors.Is(err, queue.ErrConflict) {
				logger.Debug("every candidate was claimed by another worker; retrying", logging.Error(err))
				sleepCtx(ctx, conflictPause(m.pollInterval))
				continue
			}
			m.handleNextStoryError(ctx, logger, err)
			continue
		}
		if claim == nil {
			sleepCtx(ctx, m.pollInterval)
			continue
		}

		if err := m.processClaim(ctx, l, logger, claim); err != nil && ctx.Err() == nil {
			sleepCtx(ctx, m.retryInterval)
		}
	}
}

// processClaim runs one claimed job and returns its error. A failed Story is
// held for the retry interval rather than released, so neither this worker
// nor another can pick it straight back up.
func (m *Manager) processClaim(ctx context.Context, l *lane, logger *slog.Logger, claim *queue.Claim) error {
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	keeperCtx, cancelKeeper := context.WithCancel(jobCtx)
	var keeperWG sync.WaitGroup
	keeperWG.Add(1)
	go m.keeper.Run(keeperCtx, &keeperWG, claim, cancelJob)
	stopRenewal := sync.OnceFunc(func() {
		cancelKeeper()
		keeperWG.Wait()
	})

	result, err := stageexec.Run(jobCtx, stageexec.Options{
		Logger:      logger,
		Reader:      m.store,
		Lifecycle:   m.lifecycle,
		Notifier:    m.notifier,
		Metrics:     m.metrics,
		Handler:     l.handler,
		Claim:       claim,
		RequestID:   uuid.NewString(),
		RetryAfter:  m.retryInterval,
		StopRenewal: stopRenewal,
	})
	stopRenewal()

	m.mu.Lock()
	m.lastStory = claim.StoryID
	if err != nil {
		m.failed++
		m.lastErr = err
	} else {
		m.succeeded++
	}
	m.mu.Unlock()

	if err != nil {
		if queue.IsFatal(err) {
			m.fail(err)
		}
		return err
	}
	logger.Debug("story advanced",
		logging.StoryID(result.Story.ID),
		logging.String("step", result.Step),
	)
	return nil
}

// fail records a fatal error once and stops every worker.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	if m.fatalErr != nil {
		m.mu.Unlock()
		return
	}
	m.fatalErr = err
	m.lastErr = err
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Error("workflow stopped by fatal error",
		logging.String(logging.FieldEventType, "workflow_fatal"),
		logging.String("error_kind", queue.Kind(err)),
		logging.Error(err),
	)
	notifyCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if nerr := m.notifier.Publish(notifyCtx, notifications.EventError, notifications.Payload{
		"context": "workflow",
		"error":   err,
	}); nerr != nil {
		m.logger.Debug("fatal error notification failed", logging.Error(nerr))
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) handleNextStoryError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to select next story",
		logging.Error(err),
		logging.String("error_kind", queue.Kind(err)),
		logging.String(logging.FieldEventType, "selection_failed"),
	)
	sleepCtx(ctx, m.retryInterval)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// conflictPause spreads out workers that all lost the same claim race: a
// random wait of up to a quarter of the poll interval, at least a millisecond.
func conflictPause(poll time.Duration) time.Duration {
	limit := poll / 4
	if limit < time.Millisecond {
		return time.Millisecond
	}
	return time.Millisecond + rand.N(limit)
}

// runStatsLoop keeps the per-stage story gauge current.
func (m *Manager) runStatsLoop(ctx context.Context) {
	defer m.wg.Done()
	if m.metrics == nil {
		return
	}
	interval := max(m.pollInterval, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if stats, err := m.store.Stats(ctx); err == nil {
			m.metrics.SetStoryCounts(stats)
		} else if ctx.Err() == nil {
			m.logger.Warn("failed to read story counts", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
