package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyforge/internal/logging"
	"storyforge/internal/metrics"
	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

// MaxFanOut bounds how many sibling Stories one idea may spawn at once.
const MaxFanOut = 100

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records transitions and revisions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(mgr *Manager) {
		if logger != nil {
			mgr.logger = logger
		}
	}
}

// Manager applies Story lifecycle operations against a store.
type Manager struct {
	store   *queue.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a Manager over store.
func New(store *queue.Store, opts ...Option) *Manager {
	m := &Manager{store: store, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the stage table transitions are resolved against.
func (m *Manager) Registry() *stages.Registry {
	return m.store.Registry()
}

// CreateStory starts one Story for ideaRef at the initial stage.
func (m *Manager) CreateStory(ctx context.Context, ideaRef string) (*queue.Story, error) {
	story, err := m.store.CreateStory(ctx, ideaRef)
	if err != nil {
		return nil, err
	}
	m.logger.Info("story created",
		logging.StoryID(story.ID),
		logging.String("idea_ref", story.IdeaRef),
		logging.Stage(string(story.Stage)),
	)
	return story, nil
}

// FanOut creates n sibling Stories for one idea in a single transaction.
func (m *Manager) FanOut(ctx context.Context, ideaRef string, n int) ([]*queue.Story, error) {
	if n < 1 || n > MaxFanOut {
		return nil, queue.Wrap(queue.ErrValidation, "fan out", fmt.Sprintf("count %d is outside 1..%d", n, MaxFanOut), nil)
	}
	var created []*queue.Story
	err := m.store.WithTx(ctx, func(tx *queue.Tx) error {
		created = created[:0]
		for range n {
			story, err := tx.CreateStory(ctx, ideaRef)
			if err != nil {
				return err
			}
			created = append(created, story)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("idea fanned out",
		logging.String("idea_ref", strings.TrimSpace(ideaRef)),
		logging.Int("stories", len(created)),
	)
	return created, nil
}

// TransitionTo moves an unclaimed Story along the edge its current stage
// declares for outcome. A stage without transition metadata yields
// ErrInvalidTransition and leaves the Story untouched. Claimed Stories are
// moved through Finish by their holder instead.
func (m *Manager) TransitionTo(ctx context.Context, storyID int64, outcome stages.Outcome) (*queue.Story, error) {
	const operation = "transition"
	story, err := m.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, queue.Wrap(queue.ErrNotFound, operation, fmt.Sprintf("story %d", storyID), nil)
	}
	step, err := m.resolve(operation, story.BaseStage(), outcome)
	if err != nil {
		return nil, err
	}
	updated, err := m.store.ApplyStep(ctx, storyID, step, "")
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveTransition(step)
	m.logTransition(updated, step, "")
	return updated, nil
}

func (m *Manager) resolve(operation string, stage stages.Stage, outcome stages.Outcome) (stages.Step, error) {
	outcome, err := stages.ParseOutcome(string(outcome))
	if err != nil {
		return stages.Step{}, queue.Wrap(queue.ErrValidation, operation, "", err)
	}
	md, err := m.Registry().MetadataFor(stage)
	if err != nil {
		return stages.Step{}, queue.Wrap(queue.ErrInvalidTransition, operation, fmt.Sprintf("stage %q", stage), err)
	}
	step, err := md.Resolve(outcome)
	if err != nil {
		return stages.Step{}, queue.Wrap(queue.ErrInvalidTransition, operation, "", err)
	}
	return step, nil
}

// Release hands a claim back without a transition.
func (m *Manager) Release(ctx context.Context, claim *queue.Claim) error {
	if err := m.store.ReleaseClaim(ctx, claim); err != nil {
		return err
	}
	m.logger.Info("claim released",
		logging.StoryID(claim.StoryID),
		logging.Stage(string(claim.Stage)),
		logging.Worker(claim.WorkerID),
	)
	return nil
}

// Hold keeps a claim after a failed job but cuts its lease down to wait. The
// Story stays out of selection until the lease runs out and the next sweep
// returns it to its stage.
func (m *Manager) Hold(ctx context.Context, claim *queue.Claim, wait time.Duration) error {
	if err := m.store.RenewClaim(ctx, claim, wait); err != nil {
		return err
	}
	m.logger.Info("claim held after failure",
		logging.StoryID(claim.StoryID),
		logging.Stage(string(claim.Stage)),
		logging.Worker(claim.WorkerID),
		logging.Duration("retry_after", wait),
	)
	return nil
}

// Renew extends a held claim.
func (m *Manager) Renew(ctx context.Context, claim *queue.Claim, lease time.Duration) error {
	return m.store.RenewClaim(ctx, claim, lease)
}

// ReviewRevision creates a review and attaches it to revisionID atomically.
func (m *Manager) ReviewRevision(ctx context.Context, revisionID int64, input ReviewInput) (*queue.Review, error) {
	var review *queue.Review
	err := m.store.WithTx(ctx, func(tx *queue.Tx) error {
		var err error
		review, err = attachNewReview(ctx, tx, revisionID, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

func attachNewReview(ctx context.Context, tx *queue.Tx, revisionID int64, input ReviewInput) (*queue.Review, error) {
	rev, err := tx.RevisionByID(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, queue.Wrap(queue.ErrNotFound, "review revision", fmt.Sprintf("revision %d", revisionID), nil)
	}
	review, err := tx.CreateReview(ctx, input.Text, input.Score)
	if err != nil {
		return nil, err
	}
	if err := tx.AttachReview(ctx, revisionID, review.ID()); err != nil {
		return nil, err
	}
	return review, nil
}

func (m *Manager) logTransition(story *queue.Story, step stages.Step, workerID string) {
	attrs := []logging.Attr{
		logging.StoryID(story.ID),
		logging.String("from", string(step.From())),
		logging.String("to", string(step.To())),
		logging.String("outcome", string(step.Outcome())),
	}
	if workerID != "" {
		attrs = append(attrs, logging.Worker(workerID))
	}
	m.logger.Info("story transitioned", logging.Args(attrs)...)
}
