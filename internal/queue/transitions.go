package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"storyforge/internal/stages"
)

// ApplyStep moves a Story along an edge of the stage table and appends an
// audit row. The Story must sit at step.From(), either free or claimed by
// workerID with a live lease. Any claim is cleared. An empty workerID is only
// accepted for unclaimed Stories.
func (c *conn) ApplyStep(ctx context.Context, storyID int64, step stages.Step, workerID string) (*Story, error) {
	const operation = "apply step"
	if !step.Valid() {
		return nil, Wrap(ErrInvalidTransition, operation, "step was not resolved from the stage table", nil)
	}
	if !c.registry.IsValid(step.From()) || !c.registry.IsValid(step.To()) {
		return nil, Wrap(ErrInvalidTransition, operation, fmt.Sprintf("%s is not declared by the stage table", step), nil)
	}
	workerID = strings.TrimSpace(workerID)

	story, err := c.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, Wrap(ErrNotFound, operation, fmt.Sprintf("story %d", storyID), nil)
	}
	if base := story.BaseStage(); base != step.From() {
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d is at %s, step starts at %s", storyID, base, step.From()), nil)
	}
	switch {
	case story.IsClaimed() && story.ClaimedBy != workerID:
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d is claimed by %s", storyID, story.ClaimedBy), nil)
	case story.IsClaimed() && story.LeaseExpired(c.now()):
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("lease on story %d expired", storyID), nil)
	case !story.IsClaimed() && workerID != "":
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d is not claimed by %s", storyID, workerID), nil)
	}

	stamp := c.stampAfter(story.UpdatedAt)
	res, err := c.exec(ctx,
		`UPDATE stories
         SET stage = ?, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND stage = ? AND updated_at = ?`,
		string(step.To()), formatTime(stamp),
		storyID, string(story.Stage), formatTime(story.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	} else if affected != 1 {
		return nil, Wrap(ErrConflict, operation, fmt.Sprintf("story %d changed since it was read", storyID), nil)
	}

	if _, err := c.exec(ctx,
		`INSERT INTO stage_transitions (story_id, from_stage, to_stage, outcome, worker_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		storyID, string(step.From()), string(step.To()), string(step.Outcome()), nullableString(workerID), formatTime(stamp),
	); err != nil {
		return nil, classify("record transition", err)
	}
	return c.mustGetStory(ctx, storyID)
}

// History returns the Story's transitions in the order they happened.
func (c *conn) History(ctx context.Context, storyID int64) ([]Transition, error) {
	rows, err := c.query(ctx,
		`SELECT id, story_id, from_stage, to_stage, outcome, worker_id, created_at
         FROM stage_transitions WHERE story_id = ? ORDER BY id`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("story history: %w", err)
	}
	defer rows.Close()

	var history []Transition
	for rows.Next() {
		var (
			t          Transition
			from, to   string
			outcome    string
			worker     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&t.ID, &t.StoryID, &from, &to, &outcome, &worker, &createdRaw); err != nil {
			return nil, fmt.Errorf("story history: %w", err)
		}
		t.From, t.To = stages.Stage(from), stages.Stage(to)
		t.Outcome = stages.Outcome(outcome)
		t.WorkerID = worker.String
		if t.CreatedAt, err = parseTimeString(createdRaw); err != nil {
			return nil, fmt.Errorf("story history: transition %d: %w", t.ID, err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}
