package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"storyforge/internal/logging"
	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

// ReviewInput is scored feedback produced by a reviewer.
type ReviewInput struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// RevisionInput is new content for one kind. With ExpectedVersion set the
// insert only succeeds if that is still the next version, so a worker that
// built on a stale read gets ErrConflict instead of a silently reordered
// history. Review, when present, is created and attached to the revision.
type RevisionInput struct {
	Kind            stages.Kind  `json:"kind"`
	Text            string       `json:"text"`
	ExpectedVersion *int64       `json:"expected_version,omitempty"`
	Review          *ReviewInput `json:"review,omitempty"`
}

// RevisionReviewInput reviews an existing revision.
type RevisionReviewInput struct {
	RevisionID int64       `json:"revision_id"`
	Review     ReviewInput `json:"review"`
}

// StoryReviewInput is a review of the Story as a whole, taken against Version.
type StoryReviewInput struct {
	ReviewType string      `json:"review_type"`
	Version    int64       `json:"version"`
	Review     ReviewInput `json:"review"`
}

// FinishRequest is everything a worker persists when it completes a claim.
type FinishRequest struct {
	Claim           *queue.Claim
	Outcome         stages.Outcome
	Revisions       []RevisionInput
	RevisionReviews []RevisionReviewInput
	StoryReviews    []StoryReviewInput
}

// FinishResult reports what Finish wrote. Skipped holds the existing links
// of Story reviews that repeated a (version, review type) already recorded;
// those reviews are not stored again.
type FinishResult struct {
	Story     *queue.Story            `json:"story"`
	Step      string                  `json:"step"`
	Revisions []*queue.Revision       `json:"revisions,omitempty"`
	Reviews   []*queue.Review         `json:"reviews,omitempty"`
	Links     []queue.StoryReviewLink `json:"links,omitempty"`
	Skipped   []queue.StoryReviewLink `json:"skipped,omitempty"`
}

// Finish persists a worker's output and transitions the Story in one
// transaction. The claim must still be held with a live lease; revisions must
// be of a kind the stage produces. Any failure rolls everything back and the
// Story stays claimed.
func (m *Manager) Finish(ctx context.Context, req FinishRequest) (*FinishResult, error) {
	const operation = "finish"
	if req.Claim == nil {
		return nil, queue.Wrap(queue.ErrValidation, operation, "claim is required", nil)
	}
	step, err := m.resolve(operation, req.Claim.Stage, req.Outcome)
	if err != nil {
		return nil, err
	}
	md, err := m.Registry().MetadataFor(req.Claim.Stage)
	if err != nil {
		return nil, queue.Wrap(queue.ErrInvalidTransition, operation, "", err)
	}
	allowed := md.Produces.Kinds()
	for _, rev := range req.Revisions {
		if !slices.Contains(allowed, rev.Kind) {
			return nil, queue.Wrap(queue.ErrValidation, operation,
				fmt.Sprintf("stage %s produces %s, not %s", md.Stage, md.Produces, rev.Kind), nil)
		}
	}

	var result FinishResult
	err = m.store.WithTx(ctx, func(tx *queue.Tx) error {
		result = FinishResult{Step: step.String()}
		if err := verifyClaim(ctx, tx, req.Claim); err != nil {
			return err
		}

		for _, input := range req.Revisions {
			var reviewID *int64
			if input.Review != nil {
				review, err := tx.CreateReview(ctx, input.Review.Text, input.Review.Score)
				if err != nil {
					return err
				}
				id := review.ID()
				reviewID = &id
				result.Reviews = append(result.Reviews, review)
			}
			var (
				rev *queue.Revision
				err error
			)
			if input.ExpectedVersion != nil {
				rev, err = tx.InsertRevisionAt(ctx, req.Claim.StoryID, input.Kind, *input.ExpectedVersion, input.Text, reviewID)
			} else {
				rev, err = tx.InsertRevision(ctx, req.Claim.StoryID, input.Kind, input.Text, reviewID)
			}
			if err != nil {
				return err
			}
			result.Revisions = append(result.Revisions, rev)
		}

		for _, input := range req.RevisionReviews {
			rev, err := tx.RevisionByID(ctx, input.RevisionID)
			if err != nil {
				return err
			}
			if rev != nil && rev.StoryID() != req.Claim.StoryID {
				return queue.Wrap(queue.ErrValidation, operation,
					fmt.Sprintf("revision %d belongs to story %d", input.RevisionID, rev.StoryID()), nil)
			}
			review, err := attachNewReview(ctx, tx, input.RevisionID, input.Review)
			if err != nil {
				return err
			}
			result.Reviews = append(result.Reviews, review)
		}

		for _, input := range req.StoryReviews {
			existing, err := tx.StoryReviewAt(ctx, req.Claim.StoryID, input.Version, input.ReviewType)
			if err != nil {
				return err
			}
			if existing != nil {
				// The content has not changed since this review type last ran.
				result.Skipped = append(result.Skipped, *existing)
				continue
			}
			review, err := tx.CreateReview(ctx, input.Review.Text, input.Review.Score)
			if err != nil {
				return err
			}
			link, err := tx.LinkStoryReview(ctx, req.Claim.StoryID, review.ID(), input.Version, input.ReviewType)
			if err != nil {
				return err
			}
			result.Reviews = append(result.Reviews, review)
			result.Links = append(result.Links, *link)
		}

		story, err := tx.ApplyStep(ctx, req.Claim.StoryID, step, req.Claim.WorkerID)
		if err != nil {
			return err
		}
		result.Story = story
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rev := range result.Revisions {
		m.metrics.ObserveRevision(rev.Kind())
	}
	m.metrics.ObserveTransition(step)
	m.logTransition(result.Story, step, req.Claim.WorkerID)
	if len(result.Revisions) > 0 || len(result.Skipped) > 0 {
		m.logger.Debug("stage output stored",
			logging.StoryID(req.Claim.StoryID),
			logging.Int("revisions", len(result.Revisions)),
			logging.Int("reviews", len(result.Reviews)),
			logging.Int("links", len(result.Links)),
			logging.Int("repeat_links_skipped", len(result.Skipped)),
		)
	}
	return &result, nil
}

func verifyClaim(ctx context.Context, tx *queue.Tx, claim *queue.Claim) error {
	const operation = "finish"
	story, err := tx.GetStory(ctx, claim.StoryID)
	if err != nil {
		return err
	}
	switch {
	case story == nil:
		return queue.Wrap(queue.ErrNotFound, operation, fmt.Sprintf("story %d", claim.StoryID), nil)
	case story.Stage != stages.ClaimMarker(claim.Stage) || story.ClaimedBy != claim.WorkerID:
		return queue.Wrap(queue.ErrConflict, operation, fmt.Sprintf("story %d is no longer held by %s", claim.StoryID, claim.WorkerID), nil)
	case story.LeaseExpired(tx.Now()):
		return queue.Wrap(queue.ErrConflict, operation, fmt.Sprintf("lease on story %d expired", claim.StoryID), nil)
	}
	return nil
}
