package scoring

import (
	"context"
	"fmt"

	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

// RevisionReader is the slice of the store the aggregator reads from.
type RevisionReader interface {
	LatestRevision(ctx context.Context, storyID int64, kind stages.Kind) (*queue.Revision, error)
	GetReview(ctx context.Context, id int64) (*queue.Review, error)
}

// Aggregator resolves review scores for Stories.
type Aggregator struct {
	reader RevisionReader
}

// New builds an Aggregator over reader.
func New(reader RevisionReader) *Aggregator {
	return &Aggregator{reader: reader}
}

// KindScore returns the score attached to the latest revision of kind, or 0.
func (a *Aggregator) KindScore(ctx context.Context, storyID int64, kind stages.Kind) (int, error) {
	if !kind.IsContent() {
		return 0, queue.Wrap(queue.ErrValidation, "kind score", fmt.Sprintf("kind %q is not a content kind", kind), nil)
	}
	rev, err := a.reader.LatestRevision(ctx, storyID, kind)
	if err != nil {
		return 0, err
	}
	if rev == nil {
		return 0, nil
	}
	reviewID, ok := rev.ReviewID()
	if !ok {
		return 0, nil
	}
	review, err := a.reader.GetReview(ctx, reviewID)
	if err != nil {
		return 0, err
	}
	if review == nil {
		return 0, nil
	}
	return review.Score(), nil
}

// ScoreFor returns the mean score across the content kinds the given kinds
// cover. KindBoth expands to title and script, so ScoreFor(id, KindBoth) is
// the unrounded mean of the two.
func (a *Aggregator) ScoreFor(ctx context.Context, storyID int64, kinds ...stages.Kind) (float64, error) {
	covered := expand(kinds)
	if len(covered) == 0 {
		return 0, queue.Wrap(queue.ErrValidation, "score", fmt.Sprintf("no content kind in %v", kinds), nil)
	}
	total := 0
	for _, kind := range covered {
		score, err := a.KindScore(ctx, storyID, kind)
		if err != nil {
			return 0, err
		}
		total += score
	}
	return float64(total) / float64(len(covered)), nil
}

// expand flattens kinds into distinct content kinds in display order.
func expand(kinds []stages.Kind) []stages.Kind {
	seen := make(map[stages.Kind]bool, len(stages.ContentKinds))
	for _, kind := range kinds {
		for _, k := range kind.Kinds() {
			seen[k] = true
		}
	}
	out := make([]stages.Kind, 0, len(seen))
	for _, kind := range stages.ContentKinds {
		if seen[kind] {
			out = append(out, kind)
		}
	}
	return out
}
