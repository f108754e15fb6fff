package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"storyforge/internal/stages"
)

// CreateStory persists a new Story at the stage table's initial stage.
func (c *conn) CreateStory(ctx context.Context, ideaRef string) (*Story, error) {
	ideaRef = strings.TrimSpace(ideaRef)
	if ideaRef == "" {
		return nil, Wrap(ErrValidation, "create story", "idea reference is required", nil)
	}
	stage := c.registry.Initial()
	now := formatTime(c.now())
	var id int64
	err := c.queryRow(ctx, func(row *sql.Row) error { return row.Scan(&id) },
		`INSERT INTO stories (idea_ref, stage, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
		ideaRef, string(stage), now, now,
	)
	if err != nil {
		return nil, classify("create story", err)
	}
	return c.mustGetStory(ctx, id)
}

// GetStory returns the Story with id, or nil when it does not exist.
func (c *conn) GetStory(ctx context.Context, id int64) (*Story, error) {
	var story *Story
	err := c.queryRow(ctx, func(row *sql.Row) error {
		var scanErr error
		story, scanErr = scanStory(row)
		return scanErr
	}, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	story, err = absent(story, err)
	if err != nil {
		return nil, fmt.Errorf("get story %d: %w", id, err)
	}
	return story, nil
}

func (c *conn) mustGetStory(ctx context.Context, id int64) (*Story, error) {
	story, err := c.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, Wrap(ErrNotFound, "story", fmt.Sprintf("id %d", id), nil)
	}
	return story, nil
}

// ListStories returns Stories whose stored stage is one of the given values,
// or every Story when none are given, oldest first.
func (c *conn) ListStories(ctx context.Context, filter ...stages.Stage) ([]*Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories`
	args := make([]any, 0, len(filter))
	if len(filter) > 0 {
		query += ` WHERE stage IN (` + makePlaceholders(len(filter)) + `)`
		for _, stage := range filter {
			args = append(args, string(stage))
		}
	}
	query += ` ORDER BY created_at, id`
	return c.queryStories(ctx, "list stories", query, args...)
}

// StoriesAtStage returns every Story currently at stage, oldest first.
// Claimed Stories carry a marker and are not included.
func (c *conn) StoriesAtStage(ctx context.Context, stage stages.Stage) ([]*Story, error) {
	return c.queryStories(ctx, "stories at stage",
		`SELECT `+storyColumns+` FROM stories WHERE stage = ? ORDER BY created_at, id`,
		string(stage),
	)
}

// StoriesForIdea returns the sibling Stories created from one idea.
func (c *conn) StoriesForIdea(ctx context.Context, ideaRef string) ([]*Story, error) {
	return c.queryStories(ctx, "stories for idea",
		`SELECT `+storyColumns+` FROM stories WHERE idea_ref = ? ORDER BY created_at, id`,
		strings.TrimSpace(ideaRef),
	)
}

func (c *conn) queryStories(ctx context.Context, operation, query string, args ...any) ([]*Story, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return stories, nil
}

// Stats returns a count of Stories grouped by stored stage value.
func (c *conn) Stats(ctx context.Context) (map[stages.Stage]int, error) {
	rows, err := c.query(ctx, `SELECT stage, COUNT(1) FROM stories GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("story stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[stages.Stage]int)
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("story stats: %w", err)
		}
		stats[stages.Stage(stage)] = count
	}
	return stats, rows.Err()
}
