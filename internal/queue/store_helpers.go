package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyforge/internal/stages"
)

// timeLayout is fixed width so lexical order of stored values matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const storyColumns = "id, idea_ref, stage, claimed_by, lease_expires_at, created_at, updated_at"

func scanStory(scanner rowScanner) (*Story, error) {
	var (
		story      Story
		stage      string
		claimedBy  sql.NullString
		leaseRaw   sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&story.ID, &story.IdeaRef, &stage, &claimedBy, &leaseRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	story.Stage = stages.Stage(stage)
	story.ClaimedBy = claimedBy.String
	var err error
	if story.CreatedAt, err = parseTimeString(createdRaw); err != nil {
		return nil, fmt.Errorf("story %d created_at: %w", story.ID, err)
	}
	if story.UpdatedAt, err = parseTimeString(updatedRaw); err != nil {
		return nil, fmt.Errorf("story %d updated_at: %w", story.ID, err)
	}
	if leaseRaw.Valid {
		lease, err := parseTimeString(leaseRaw.String)
		if err != nil {
			return nil, fmt.Errorf("story %d lease_expires_at: %w", story.ID, err)
		}
		story.LeaseExpiresAt = &lease
	}
	return &story, nil
}

const revisionColumns = "id, story_id, kind, version, text, review_id, created_at"

func scanRevision(scanner rowScanner) (*Revision, error) {
	var (
		rev        Revision
		kind       string
		reviewID   sql.NullInt64
		createdRaw string
	)
	if err := scanner.Scan(&rev.id, &rev.storyID, &kind, &rev.version, &rev.text, &reviewID, &createdRaw); err != nil {
		return nil, err
	}
	rev.kind = stages.Kind(kind)
	rev.reviewID = reviewID.Int64
	created, err := parseTimeString(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("revision %d created_at: %w", rev.id, err)
	}
	rev.createdAt = created
	return &rev, nil
}

const reviewColumns = "id, text, score, created_at"

func scanReview(scanner rowScanner) (*Review, error) {
	var (
		review     Review
		createdRaw string
	)
	if err := scanner.Scan(&review.id, &review.text, &review.score, &createdRaw); err != nil {
		return nil, err
	}
	created, err := parseTimeString(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("review %d created_at: %w", review.id, err)
	}
	review.createdAt = created
	return &review, nil
}

const linkColumns = "id, story_id, review_id, version, review_type, created_at"

func scanLink(scanner rowScanner) (StoryReviewLink, error) {
	var (
		link       StoryReviewLink
		createdRaw string
	)
	if err := scanner.Scan(&link.ID, &link.StoryID, &link.ReviewID, &link.Version, &link.ReviewType, &createdRaw); err != nil {
		return StoryReviewLink{}, err
	}
	created, err := parseTimeString(createdRaw)
	if err != nil {
		return StoryReviewLink{}, fmt.Errorf("story review link %d created_at: %w", link.ID, err)
	}
	link.CreatedAt = created
	return link, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// absent converts sql.ErrNoRows into a nil result for lookup paths.
func absent[T any](value *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}
