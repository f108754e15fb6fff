package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/config"
	"storyforge/internal/lifecycle"
	"storyforge/internal/logging"
	"storyforge/internal/metrics"
	"storyforge/internal/notifications"
	"storyforge/internal/queue"
	"storyforge/internal/selection"
)

// Manager coordinates stage workers over a shared store.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	selector  *selection.Selector
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
	notifier  notifications.Service
	metrics   *metrics.Metrics
	keeper    *LeaseKeeper

	pollInterval  time.Duration
	retryInterval time.Duration
	workerID      string

	lanes []*lane

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	fatalErr  error
	lastErr   error
	lastStory int64
	succeeded int
	failed    int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	notifier      notifications.Service
	metrics       *metrics.Metrics
	pollInterval  time.Duration
	retryInterval time.Duration
}

// WithNotifier replaces the notifier built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = notifier
	}
}

// WithMetrics records selection, transition, and stage run metrics on m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) {
		o.metrics = m
	}
}

// WithPollInterval overrides the idle wait between selection attempts.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.pollInterval = d
	}
}

// WithRetryInterval overrides the wait after a failed selection attempt.
func WithRetryInterval(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.retryInterval = d
	}
}

// NewManager constructs a workflow manager. Stages must be registered with
// ConfigureStages before Start.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{
		pollInterval:  cfg.PollInterval(),
		retryInterval: cfg.ErrorRetryInterval(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	life := lifecycle.New(store,
		lifecycle.WithMetrics(options.metrics),
		lifecycle.WithLogger(logging.NewComponentLogger(logger, "lifecycle")),
	)
	return &Manager{
		cfg:   cfg,
		store: store,
		selector: selection.New(store,
			selection.WithMetrics(options.metrics),
			selection.WithLogger(logging.NewComponentLogger(logger, "selector")),
		),
		lifecycle:     life,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		notifier:      notifier,
		metrics:       options.metrics,
		keeper:        NewLeaseKeeper(life, logger, cfg.HeartbeatInterval(), cfg.LeaseDuration()),
		pollInterval:  options.pollInterval,
		retryInterval: options.retryInterval,
		workerID:      baseWorkerID(cfg.Workflow.WorkerID),
	}
}

// Lifecycle exposes the lifecycle manager the workers write through.
func (m *Manager) Lifecycle() *lifecycle.Manager {
	return m.lifecycle
}

func baseWorkerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "storyforge"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
