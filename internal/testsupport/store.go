package testsupport

import (
	"context"
	"strings"
	"testing"

	"storyforge/internal/config"
	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// DraftTable is a two-stage table: Draft fails back to itself and passes to
// Review, which is terminal.
const DraftTable = `
initial = "Draft"

[[stage]]
name = "Draft"
category = "refinement"
produces = "script"
on_pass = "Review"
on_fail = "Draft"

[[stage]]
name = "Review"
category = "terminal"
`

// MustLoadRegistry parses a stage table or fails the test.
func MustLoadRegistry(t testing.TB, table string) *stages.Registry {
	t.Helper()

	reg, err := stages.Load(strings.NewReader(table))
	if err != nil {
		t.Fatalf("stages.Load: %v", err)
	}
	return reg
}

// MustCreateStory persists a Story at the initial stage.
func MustCreateStory(t testing.TB, store *queue.Store, ideaRef string) *queue.Story {
	t.Helper()

	story, err := store.CreateStory(context.Background(), ideaRef)
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return story
}

// MustInsertRevision appends a revision, optionally with a fresh review of score.
func MustInsertRevision(t testing.TB, store *queue.Store, storyID int64, kind stages.Kind, text string, score *int) *queue.Revision {
	t.Helper()

	ctx := context.Background()
	var reviewID *int64
	if score != nil {
		review := MustCreateReview(t, store, "review of "+text, *score)
		id := review.ID()
		reviewID = &id
	}
	rev, err := store.InsertRevision(ctx, storyID, kind, text, reviewID)
	if err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}
	return rev
}

// MustCreateReview persists a review.
func MustCreateReview(t testing.TB, store *queue.Store, text string, score int) *queue.Review {
	t.Helper()

	review, err := store.CreateReview(context.Background(), text, score)
	if err != nil {
		t.Fatalf("CreateReview: %v", err)
	}
	return review
}

// MustMoveTo walks a Story along pass edges until it reaches target.
func MustMoveTo(t testing.TB, store *queue.Store, storyID int64, target stages.Stage) *queue.Story {
	t.Helper()

	ctx := context.Background()
	reg := store.Registry()
	for range len(reg.AllStages()) + 1 {
		story, err := store.GetStory(ctx, storyID)
		if err != nil || story == nil {
			t.Fatalf("GetStory(%d): %v", storyID, err)
		}
		if story.Stage == target {
			return story
		}
		md, err := reg.MetadataFor(story.Stage)
		if err != nil {
			t.Fatalf("MetadataFor(%s): %v", story.Stage, err)
		}
		step, err := md.Resolve(stages.OutcomePass)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if _, err := store.ApplyStep(ctx, storyID, step, ""); err != nil {
			t.Fatalf("ApplyStep(%s): %v", step, err)
		}
	}
	t.Fatalf("story %d never reached %s along pass edges", storyID, target)
	return nil
}

// Score returns a pointer for MustInsertRevision.
func Score(v int) *int {
	return &v
}
