package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/notifications"
	"storyforge/internal/queue"
	"storyforge/internal/stage"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
	"storyforge/internal/workflow"
)

type stubStage struct {
	mu      sync.Mutex
	name    string
	calls   map[int64]int
	process func(job stage.Job, call int) (stage.Result, error)
	health  stage.Health
}

func newStubStage(name string, process func(job stage.Job, call int) (stage.Result, error)) *stubStage {
	return &stubStage{name: name, calls: map[int64]int{}, process: process, health: stage.Healthy(stages.Stage(name), "stub")}
}

func (s *stubStage) Process(_ context.Context, job stage.Job) (stage.Result, error) {
	s.mu.Lock()
	s.calls[job.Story.ID]++
	call := s.calls[job.Story.ID]
	s.mu.Unlock()
	return s.process(job, call)
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return s.health
}

func (s *stubStage) Calls() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int, len(s.calls))
	for id, n := range s.calls {
		out[id] = n
	}
	return out
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubNotifier) Count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func passWithScript(job stage.Job, _ int) (stage.Result, error) {
	return stage.Result{Outcome: stages.OutcomePass, Text: "script for " + job.Story.IdeaRef}, nil
}

func newTestManager(t *testing.T, opts ...testsupport.ConfigOption) (*workflow.Manager, *queue.Store, *stubNotifier, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	reg := testsupport.MustLoadRegistry(t, testsupport.DraftTable)
	store := testsupport.MustOpenStore(t, cfg, queue.WithRegistry(reg))
	notifier := &stubNotifier{}
	mgr := workflow.NewManager(cfg, store, nil,
		workflow.WithNotifier(notifier),
		workflow.WithPollInterval(10*time.Millisecond),
		workflow.WithRetryInterval(10*time.Millisecond),
	)
	return mgr, store, notifier, cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func countAt(t *testing.T, store *queue.Store, stage stages.Stage) int {
	t.Helper()
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return stats[stage]
}
