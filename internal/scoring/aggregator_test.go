package scoring_test

import (
	"context"
	"errors"
	"testing"

	"storyforge/internal/queue"
	"storyforge/internal/scoring"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

func TestScoreForSingleKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	agg := scoring.New(store)
	story := testsupport.MustCreateStory(t, store, "idea-1")

	score, err := agg.ScoreFor(ctx, story.ID, stages.KindScript)
	if err != nil || score != 0 {
		t.Fatalf("no revision: score=%v err=%v", score, err)
	}

	testsupport.MustInsertRevision(t, store, story.ID, stages.KindScript, "v0", testsupport.Score(40))
	testsupport.MustInsertRevision(t, store, story.ID, stages.KindScript, "v1", testsupport.Score(75))
	score, err = agg.ScoreFor(ctx, story.ID, stages.KindScript)
	if err != nil || score != 75 {
		t.Fatalf("latest reviewed: score=%v err=%v", score, err)
	}

	// An unreviewed latest revision counts as zero even when older ones were reviewed.
	testsupport.MustInsertRevision(t, store, story.ID, stages.KindScript, "v2", nil)
	score, err = agg.ScoreFor(ctx, story.ID, stages.KindScript)
	if err != nil || score != 0 {
		t.Fatalf("unreviewed latest: score=%v err=%v", score, err)
	}
}

func TestScoreForBothKindsIsUnroundedMean(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	agg := scoring.New(store)
	story := testsupport.MustCreateStory(t, store, "idea-1")

	testsupport.MustInsertRevision(t, store, story.ID, stages.KindTitle, "title", testsupport.Score(81))
	score, err := agg.ScoreFor(ctx, story.ID, stages.KindBoth)
	if err != nil || score != 40.5 {
		t.Fatalf("missing script: score=%v err=%v", score, err)
	}

	testsupport.MustInsertRevision(t, store, story.ID, stages.KindScript, "script", testsupport.Score(70))
	score, err = agg.ScoreFor(ctx, story.ID, stages.KindBoth)
	if err != nil || score != 75.5 {
		t.Fatalf("both: score=%v err=%v", score, err)
	}
	explicit, err := agg.ScoreFor(ctx, story.ID, stages.KindTitle, stages.KindScript, stages.KindTitle)
	if err != nil || explicit != score {
		t.Fatalf("explicit kinds: score=%v err=%v", explicit, err)
	}
}

func TestScoreForRejectsNonContentKinds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	agg := scoring.New(store)

	if _, err := agg.ScoreFor(context.Background(), 1); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("no kinds: expected ErrValidation, got %v", err)
	}
	if _, err := agg.KindScore(context.Background(), 1, stages.KindBoth); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("both as single kind: expected ErrValidation, got %v", err)
	}
}
