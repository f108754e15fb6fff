package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/stages"
)

func validateRevisionInput(operation string, storyID int64, kind stages.Kind, text string) error {
	if storyID <= 0 {
		return Wrap(ErrValidation, operation, "story id must be positive", nil)
	}
	if !kind.IsContent() {
		return Wrap(ErrValidation, operation, fmt.Sprintf("kind %q cannot be stored", kind), nil)
	}
	if strings.TrimSpace(text) == "" {
		return Wrap(ErrValidation, operation, "text is required", nil)
	}
	return nil
}

func (c *conn) ensureRevisionTargets(ctx context.Context, operation string, storyID int64, reviewID *int64) error {
	story, err := c.GetStory(ctx, storyID)
	if err != nil {
		return err
	}
	if story == nil {
		return Wrap(ErrNotFound, operation, fmt.Sprintf("story %d", storyID), nil)
	}
	if reviewID != nil {
		review, err := c.GetReview(ctx, *reviewID)
		if err != nil {
			return err
		}
		if review == nil {
			return Wrap(ErrNotFound, operation, fmt.Sprintf("review %d", *reviewID), nil)
		}
	}
	return nil
}

func reviewArg(reviewID *int64) any {
	if reviewID == nil {
		return nil
	}
	return *reviewID
}

// InsertRevision appends the next version of kind for a Story. The version is
// computed and the row written by a single statement, so concurrent writers
// for the same (story, kind) always receive distinct consecutive versions.
func (c *conn) InsertRevision(ctx context.Context, storyID int64, kind stages.Kind, text string, reviewID *int64) (*Revision, error) {
	const operation = "insert revision"
	if err := validateRevisionInput(operation, storyID, kind, text); err != nil {
		return nil, err
	}
	if err := c.ensureRevisionTargets(ctx, operation, storyID, reviewID); err != nil {
		return nil, err
	}

	var id int64
	err := c.queryRow(ctx, func(row *sql.Row) error { return row.Scan(&id) },
		`INSERT INTO revisions (story_id, kind, version, text, review_id, created_at)
         SELECT ?, ?, COALESCE(MAX(version) + 1, 0), ?, ?, ?
         FROM revisions WHERE story_id = ? AND kind = ?
         RETURNING id`,
		storyID, string(kind), text, reviewArg(reviewID), formatTime(c.now()),
		storyID, string(kind),
	)
	if err != nil {
		return nil, classify(operation, err)
	}
	return c.mustGetRevision(ctx, id)
}

// InsertRevisionAt appends a revision only if version is the next one for
// (story, kind). A writer that lost a race, or built on a stale read, receives
// ErrConflict and no row is written.
func (c *conn) InsertRevisionAt(ctx context.Context, storyID int64, kind stages.Kind, version int64, text string, reviewID *int64) (*Revision, error) {
	const operation = "insert revision"
	if version < 0 {
		return nil, Wrap(ErrValidation, operation, fmt.Sprintf("version %d is negative", version), nil)
	}
	if err := validateRevisionInput(operation, storyID, kind, text); err != nil {
		return nil, err
	}
	if err := c.ensureRevisionTargets(ctx, operation, storyID, reviewID); err != nil {
		return nil, err
	}

	var id int64
	err := c.queryRow(ctx, func(row *sql.Row) error { return row.Scan(&id) },
		`INSERT INTO revisions (story_id, kind, version, text, review_id, created_at)
         SELECT ?, ?, ?, ?, ?, ?
         WHERE (SELECT COALESCE(MAX(version) + 1, 0) FROM revisions WHERE story_id = ? AND kind = ?) = ?
         RETURNING id`,
		storyID, string(kind), version, text, reviewArg(reviewID), formatTime(c.now()),
		storyID, string(kind), version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("version %d of story %d %s is taken or out of sequence", version, storyID, kind), nil)
	}
	if err != nil {
		return nil, classify(operation, err)
	}
	return c.mustGetRevision(ctx, id)
}

// RevisionByID returns the revision with id, or nil when it does not exist.
func (c *conn) RevisionByID(ctx context.Context, id int64) (*Revision, error) {
	return c.getRevision(ctx, "get revision", `SELECT `+revisionColumns+` FROM revisions WHERE id = ?`, id)
}

func (c *conn) mustGetRevision(ctx context.Context, id int64) (*Revision, error) {
	rev, err := c.RevisionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, Wrap(ErrNotFound, "revision", fmt.Sprintf("id %d", id), nil)
	}
	return rev, nil
}

// LatestRevision returns the highest version of kind for a Story, or nil.
func (c *conn) LatestRevision(ctx context.Context, storyID int64, kind stages.Kind) (*Revision, error) {
	return c.getRevision(ctx, "latest revision",
		`SELECT `+revisionColumns+` FROM revisions WHERE story_id = ? AND kind = ? ORDER BY version DESC LIMIT 1`,
		storyID, string(kind),
	)
}

// RevisionAt returns one specific version, or nil.
func (c *conn) RevisionAt(ctx context.Context, storyID int64, kind stages.Kind, version int64) (*Revision, error) {
	if version < 0 {
		return nil, Wrap(ErrValidation, "revision at", fmt.Sprintf("version %d is negative", version), nil)
	}
	return c.getRevision(ctx, "revision at",
		`SELECT `+revisionColumns+` FROM revisions WHERE story_id = ? AND kind = ? AND version = ?`,
		storyID, string(kind), version,
	)
}

func (c *conn) getRevision(ctx context.Context, operation, query string, args ...any) (*Revision, error) {
	var rev *Revision
	err := c.queryRow(ctx, func(row *sql.Row) error {
		var scanErr error
		rev, scanErr = scanRevision(row)
		return scanErr
	}, query, args...)
	rev, err = absent(rev, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return rev, nil
}

// Revisions returns every version of kind for a Story in ascending order.
// The slice is a point-in-time read.
func (c *conn) Revisions(ctx context.Context, storyID int64, kind stages.Kind) ([]*Revision, error) {
	rows, err := c.query(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE story_id = ? AND kind = ? ORDER BY version ASC`,
		storyID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("list revisions: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revisions, nil
}

// CountRevisions returns how many versions of kind a Story has. This equals
// the version the next insert will receive.
func (c *conn) CountRevisions(ctx context.Context, storyID int64, kind stages.Kind) (int, error) {
	var count int
	err := c.queryRow(ctx, func(row *sql.Row) error { return row.Scan(&count) },
		`SELECT COUNT(1) FROM revisions WHERE story_id = ? AND kind = ?`,
		storyID, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return count, nil
}

// AttachReview records that a revision was reviewed. It succeeds once per
// revision; a second attach returns ErrConflict.
func (c *conn) AttachReview(ctx context.Context, revisionID, reviewID int64) error {
	const operation = "attach review"
	review, err := c.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if review == nil {
		return Wrap(ErrNotFound, operation, fmt.Sprintf("review %d", reviewID), nil)
	}

	res, err := c.exec(ctx,
		`UPDATE revisions SET review_id = ? WHERE id = ? AND review_id IS NULL`,
		reviewID, revisionID,
	)
	if err != nil {
		return classify(operation, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	} else if affected == 1 {
		return nil
	}

	rev, err := c.RevisionByID(ctx, revisionID)
	if err != nil {
		return err
	}
	if rev == nil {
		return Wrap(ErrNotFound, operation, fmt.Sprintf("revision %d", revisionID), nil)
	}
	return Wrap(ErrConflict, operation, fmt.Sprintf("revision %d already has a review", revisionID), nil)
}
