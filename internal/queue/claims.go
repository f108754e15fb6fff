package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storyforge/internal/stages"
)

// ClaimStory moves story into the claim marker of its stage, provided the row
// still matches the snapshot (stage and updated_at) the caller read. Any
// difference means another worker got there first and yields ErrConflict.
func (c *conn) ClaimStory(ctx context.Context, story *Story, workerID string, lease time.Duration) (*Claim, error) {
	const operation = "claim story"
	workerID = strings.TrimSpace(workerID)
	switch {
	case story == nil:
		return nil, Wrap(ErrValidation, operation, "story is required", nil)
	case workerID == "":
		return nil, Wrap(ErrValidation, operation, "worker id is required", nil)
	case lease <= 0:
		return nil, Wrap(ErrValidation, operation, "lease must be positive", nil)
	case story.IsClaimed():
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d is already claimed by %s", story.ID, story.ClaimedBy), nil)
	}
	md, err := c.registry.MetadataFor(story.Stage)
	if err != nil {
		return nil, Wrap(ErrInvalidTransition, operation, fmt.Sprintf("story %d", story.ID), err)
	}

	stamp := c.stampAfter(story.UpdatedAt)
	expires := stamp.Add(lease)
	res, err := c.exec(ctx,
		`UPDATE stories
         SET stage = ?, claimed_by = ?, lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND stage = ? AND updated_at = ?`,
		string(stages.ClaimMarker(md.Stage)), workerID, formatTime(expires), formatTime(stamp),
		story.ID, string(story.Stage), formatTime(story.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if affected != 1 {
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d changed since it was read", story.ID), nil)
	}
	return &Claim{StoryID: story.ID, Stage: md.Stage, WorkerID: workerID, ExpiresAt: expires, stamp: stamp}, nil
}

// RenewClaim resets a held lease to end lease from now, which can extend or
// shorten it. It leaves updated_at untouched so the claim's own release and
// finish checks keep matching.
func (c *conn) RenewClaim(ctx context.Context, claim *Claim, lease time.Duration) error {
	const operation = "renew claim"
	if claim == nil || lease <= 0 {
		return Wrap(ErrValidation, operation, "claim and positive lease are required", nil)
	}
	expires := c.now().UTC().Add(lease)
	res, err := c.exec(ctx,
		`UPDATE stories SET lease_expires_at = ?
         WHERE id = ? AND stage = ? AND claimed_by = ? AND lease_expires_at > ?`,
		formatTime(expires),
		claim.StoryID, string(stages.ClaimMarker(claim.Stage)), claim.WorkerID, formatTime(c.now()),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	} else if affected != 1 {
		return Wrap(ErrConflict, operation, fmt.Sprintf("story %d is no longer held by %s", claim.StoryID, claim.WorkerID), nil)
	}
	claim.ExpiresAt = expires
	return nil
}

// ReleaseClaim returns a held Story to its stage without a transition.
func (c *conn) ReleaseClaim(ctx context.Context, claim *Claim) error {
	const operation = "release claim"
	if claim == nil {
		return Wrap(ErrValidation, operation, "claim is required", nil)
	}
	story, err := c.GetStory(ctx, claim.StoryID)
	if err != nil {
		return err
	}
	if story == nil {
		return Wrap(ErrNotFound, operation, fmt.Sprintf("story %d", claim.StoryID), nil)
	}
	if story.Stage != stages.ClaimMarker(claim.Stage) || story.ClaimedBy != claim.WorkerID || !story.UpdatedAt.Equal(claim.stamp) {
		return Wrap(ErrConflict, operation, fmt.Sprintf("story %d is no longer held by %s", claim.StoryID, claim.WorkerID), nil)
	}
	res, err := c.exec(ctx,
		`UPDATE stories
         SET stage = ?, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND stage = ? AND claimed_by = ? AND updated_at = ?`,
		string(claim.Stage), formatTime(c.stampAfter(story.UpdatedAt)),
		story.ID, string(story.Stage), claim.WorkerID, formatTime(story.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	} else if affected != 1 {
		return Wrap(ErrConflict, operation, fmt.Sprintf("story %d changed during release", claim.StoryID), nil)
	}
	return nil
}

// ReclaimExpired returns Stories whose lease has run out to their stage so
// the selector can offer them again. With no stages given it sweeps every
// stage.
func (c *conn) ReclaimExpired(ctx context.Context, only ...stages.Stage) (int64, error) {
	now := formatTime(c.now())
	query := `UPDATE stories
        SET stage = substr(stage, ?), claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
        WHERE substr(stage, 1, ?) = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`
	args := []any{len(stages.ClaimPrefix) + 1, now, len(stages.ClaimPrefix), stages.ClaimPrefix, now}
	if len(only) > 0 {
		query += ` AND stage IN (` + makePlaceholders(len(only)) + `)`
		for _, stage := range only {
			args = append(args, string(stages.ClaimMarker(stage)))
		}
	}
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired claims: %w", err)
	}
	return res.RowsAffected()
}
