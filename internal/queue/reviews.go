package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ValidateScore rejects scores outside [MinScore, MaxScore].
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return Wrap(ErrValidation, "review score", fmt.Sprintf("%d is outside %d..%d", score, MinScore, MaxScore), nil)
	}
	return nil
}

// CreateReview persists scored feedback.
func (c *conn) CreateReview(ctx context.Context, text string, score int) (*Review, error) {
	const operation = "create review"
	if strings.TrimSpace(text) == "" {
		return nil, Wrap(ErrValidation, operation, "text is required", nil)
	}
	if err := ValidateScore(score); err != nil {
		return nil, err
	}
	var id int64
	err := c.queryRow(ctx, func(row *sql.Row) error { return row.Scan(&id) },
		`INSERT INTO reviews (text, score, created_at) VALUES (?, ?, ?) RETURNING id`,
		text, score, formatTime(c.now()),
	)
	if err != nil {
		return nil, classify(operation, err)
	}
	review, err := c.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, Wrap(ErrNotFound, operation, fmt.Sprintf("review %d vanished", id), nil)
	}
	return review, nil
}

// GetReview returns the review with id, or nil when it does not exist.
func (c *conn) GetReview(ctx context.Context, id int64) (*Review, error) {
	var review *Review
	err := c.queryRow(ctx, func(row *sql.Row) error {
		var scanErr error
		review, scanErr = scanReview(row)
		return scanErr
	}, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	review, err = absent(review, err)
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}
	return review, nil
}

// LinkStoryReview records a Story-wide review taken against version. At most
// one link exists per (story, version, review type); a duplicate returns
// ErrConflict.
func (c *conn) LinkStoryReview(ctx context.Context, storyID, reviewID, version int64, reviewType string) (*StoryReviewLink, error) {
	const operation = "link story review"
	reviewType = strings.TrimSpace(reviewType)
	if reviewType == "" {
		return nil, Wrap(ErrValidation, operation, "review type is required", nil)
	}
	if version < 0 {
		return nil, Wrap(ErrValidation, operation, fmt.Sprintf("version %d is negative", version), nil)
	}
	if err := c.ensureRevisionTargets(ctx, operation, storyID, &reviewID); err != nil {
		return nil, err
	}

	var link StoryReviewLink
	err := c.queryRow(ctx, func(row *sql.Row) error {
		var scanErr error
		link, scanErr = scanLink(row)
		return scanErr
	},
		`INSERT INTO story_review_links (story_id, review_id, version, review_type, created_at)
         VALUES (?, ?, ?, ?, ?)
         RETURNING `+linkColumns,
		storyID, reviewID, version, reviewType, formatTime(c.now()),
	)
	if err != nil {
		return nil, classify(operation, err)
	}
	return &link, nil
}

// StoryReviewAt returns the link for (story, version, review type), or nil
// when none exists.
func (c *conn) StoryReviewAt(ctx context.Context, storyID, version int64, reviewType string) (*StoryReviewLink, error) {
	var link *StoryReviewLink
	err := c.queryRow(ctx, func(row *sql.Row) error {
		found, scanErr := scanLink(row)
		if scanErr == nil {
			link = &found
		}
		return scanErr
	},
		`SELECT `+linkColumns+` FROM story_review_links WHERE story_id = ? AND version = ? AND review_type = ?`,
		storyID, version, strings.TrimSpace(reviewType),
	)
	link, err = absent(link, err)
	if err != nil {
		return nil, fmt.Errorf("story review at version %d: %w", version, err)
	}
	return link, nil
}

// StoryReviews returns every Story-wide review link, oldest first.
func (c *conn) StoryReviews(ctx context.Context, storyID int64) ([]StoryReviewLink, error) {
	rows, err := c.query(ctx,
		`SELECT `+linkColumns+` FROM story_review_links WHERE story_id = ? ORDER BY version, review_type`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("story reviews: %w", err)
	}
	defer rows.Close()

	var links []StoryReviewLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("story reviews: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
