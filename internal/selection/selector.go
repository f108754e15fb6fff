package selection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"storyforge/internal/logging"
	"storyforge/internal/metrics"
	"storyforge/internal/queue"
	"storyforge/internal/scoring"
	"storyforge/internal/stages"
)

// Reader is the read surface ranking needs. *queue.Store and *queue.Tx both
// satisfy it.
type Reader interface {
	scoring.RevisionReader
	StoriesAtStage(ctx context.Context, stage stages.Stage) ([]*queue.Story, error)
	CountRevisions(ctx context.Context, storyID int64, kind stages.Kind) (int, error)
}

// Candidate is one Story in ranked order with the keys that placed it there.
type Candidate struct {
	Story      *queue.Story `json:"story"`
	VersionKey int          `json:"version_key"`
	ScoreKey   float64      `json:"score_key"`
}

// AgeKey returns the creation time used as the third sort key.
func (c Candidate) AgeKey() time.Time {
	return c.Story.CreatedAt
}

// Option configures a Selector.
type Option func(*Selector)

// WithMetrics records selection outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) {
		s.metrics = m
	}
}

// WithLogger sets the selector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Selector ranks and claims Stories waiting at a stage.
type Selector struct {
	store   *queue.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a Selector over store, using the store's stage table.
func New(store *queue.Store, opts ...Option) *Selector {
	s := &Selector{store: store, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rank returns every Story at stage in selection order.
func (s *Selector) Rank(ctx context.Context, stage stages.Stage) ([]Candidate, error) {
	md, err := s.store.Registry().MetadataFor(stage)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, md)
}

// rank reads every ranking input inside one transaction so the order
// reflects a single point in time.
func (s *Selector) rank(ctx context.Context, md stages.Metadata) ([]Candidate, error) {
	var ranked []Candidate
	err := s.store.WithTx(ctx, func(tx *queue.Tx) error {
		var err error
		ranked, err = Rank(ctx, tx, md)
		return err
	})
	return ranked, err
}

// NextForStage returns the best-ranked Story at stage without reserving it,
// or nil when no Story waits there. Repeated calls with no intervening
// mutation return the same Story.
func (s *Selector) NextForStage(ctx context.Context, stage stages.Stage) (*queue.Story, error) {
	ranked, err := s.Rank(ctx, stage)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0].Story, nil
}

// ClaimNext recovers expired leases at stage, then claims the best-ranked
// Story for workerID. It returns nil when nothing waits, and ErrConflict only
// when every candidate was taken by other workers during the attempt.
func (s *Selector) ClaimNext(ctx context.Context, stage stages.Stage, workerID string, lease time.Duration) (*queue.Claim, error) {
	md, err := s.store.Registry().MetadataFor(stage)
	if err != nil {
		return nil, err
	}

	reclaimed, err := s.store.ReclaimExpired(ctx, md.Stage)
	if err != nil {
		s.metrics.ObserveSelection(md.Stage, metrics.ResultError)
		return nil, err
	}
	if reclaimed > 0 {
		s.metrics.ObserveReclaimed(md.Stage, reclaimed)
		s.logger.Info("reclaimed expired claims",
			logging.Stage(string(md.Stage)),
			logging.Int64("count", reclaimed),
		)
	}

	ranked, err := s.rank(ctx, md)
	if err != nil {
		s.metrics.ObserveSelection(md.Stage, metrics.ResultError)
		return nil, err
	}
	if len(ranked) == 0 {
		s.metrics.ObserveSelection(md.Stage, metrics.ResultEmpty)
		return nil, nil
	}

	for _, candidate := range ranked {
		claim, err := s.store.ClaimStory(ctx, candidate.Story, workerID, lease)
		if errors.Is(err, queue.ErrConflict) {
			s.logger.Debug("claim lost, trying next candidate",
				logging.StoryID(candidate.Story.ID),
				logging.Stage(string(md.Stage)),
			)
			continue
		}
		if err != nil {
			s.metrics.ObserveSelection(md.Stage, metrics.ResultError)
			return nil, err
		}
		s.metrics.ObserveSelection(md.Stage, metrics.ResultClaimed)
		return claim, nil
	}
	s.metrics.ObserveSelection(md.Stage, metrics.ResultConflict)
	return nil, queue.Wrap(queue.ErrConflict, "claim next", fmt.Sprintf("all %d candidates at %s were claimed concurrently", len(ranked), md.Stage), nil)
}

// Rank orders the Stories waiting at md.Stage.
func Rank(ctx context.Context, reader Reader, md stages.Metadata) ([]Candidate, error) {
	if md.Terminal() {
		return nil, fmt.Errorf("%w: %s", stages.ErrNoTransitions, md.Stage)
	}
	stories, err := reader.StoriesAtStage(ctx, md.Stage)
	if err != nil {
		return nil, err
	}

	agg := scoring.New(reader)
	candidates := make([]Candidate, 0, len(stories))
	for _, story := range stories {
		versionKey, err := VersionKey(ctx, reader, story.ID, md.Produces)
		if err != nil {
			return nil, err
		}
		scoreKey, err := agg.ScoreFor(ctx, story.ID, md.Produces)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Story: story, VersionKey: versionKey, ScoreKey: scoreKey})
	}

	slices.SortStableFunc(candidates, Compare)
	return candidates, nil
}

// Compare orders candidates: version key ascending, score key descending,
// creation time ascending, id ascending.
func Compare(a, b Candidate) int {
	if c := cmp.Compare(a.VersionKey, b.VersionKey); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ScoreKey, a.ScoreKey); c != 0 {
		return c
	}
	if c := a.Story.CreatedAt.Compare(b.Story.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Story.ID, b.Story.ID)
}

// VersionKey is the number of revisions the Story already has of kind, which
// is also the next version number. For KindBoth it is the smaller of the two
// counts, so a Story lagging in either kind is treated as lagging.
func VersionKey(ctx context.Context, reader Reader, storyID int64, kind stages.Kind) (int, error) {
	kinds := kind.Kinds()
	if len(kinds) == 0 {
		return 0, queue.Wrap(queue.ErrValidation, "version key", fmt.Sprintf("kind %q is not a content kind", kind), nil)
	}
	key := -1
	for _, k := range kinds {
		count, err := reader.CountRevisions(ctx, storyID, k)
		if err != nil {
			return 0, err
		}
		if key < 0 || count < key {
			key = count
		}
	}
	return key, nil
}
