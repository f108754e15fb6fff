package lifecycle_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"storyforge/internal/lifecycle"
	"storyforge/internal/queue"
	"storyforge/internal/selection"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

func newManager(t *testing.T, opts ...queue.Option) (*lifecycle.Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg, opts...)
	return lifecycle.New(store), store
}

func TestFanOutCreatesSiblings(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()

	created, err := mgr.FanOut(ctx, "idea-42", 3)
	if err != nil {
		t.Fatalf("FanOut: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d stories", len(created))
	}
	for _, story := range created {
		if story.IdeaRef != "idea-42" || story.Stage != store.Registry().Initial() {
			t.Fatalf("story = %+v", story)
		}
	}
	siblings, err := store.StoriesForIdea(ctx, "idea-42")
	if err != nil || len(siblings) != 3 {
		t.Fatalf("StoriesForIdea = %d, %v", len(siblings), err)
	}

	for _, n := range []int{0, -1, lifecycle.MaxFanOut + 1} {
		if _, err := mgr.FanOut(ctx, "idea-42", n); !errors.Is(err, queue.ErrValidation) {
			t.Fatalf("FanOut(%d): expected ErrValidation, got %v", n, err)
		}
	}
	if _, err := mgr.FanOut(ctx, " ", 2); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("empty idea: expected ErrValidation, got %v", err)
	}
	all, err := store.ListStories(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("failed fan-outs left rows: %d, %v", len(all), err)
	}
}

func TestTransitionToFollowsRegistry(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	story, err := mgr.CreateStory(ctx, "idea-1")
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	md, err := store.Registry().MetadataFor(story.Stage)
	if err != nil {
		t.Fatalf("MetadataFor: %v", err)
	}
	moved, err := mgr.TransitionTo(ctx, story.ID, stages.OutcomeFail)
	if err != nil || moved.Stage != md.OnFail {
		t.Fatalf("fail = %v, %v; want %s", moved, err, md.OnFail)
	}
	moved, err = mgr.TransitionTo(ctx, story.ID, "PASS")
	if err != nil || moved.Stage != md.OnPass {
		t.Fatalf("pass = %v, %v; want %s", moved, err, md.OnPass)
	}
	if _, err := mgr.TransitionTo(ctx, story.ID, "maybe"); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("bad outcome: expected ErrValidation, got %v", err)
	}
	if _, err := mgr.TransitionTo(ctx, story.ID+10, stages.OutcomePass); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("missing story: expected ErrNotFound, got %v", err)
	}
}

func TestTransitionToUnregisteredStageLeavesStoryUnmodified(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")

	raw, err := sql.Open("sqlite", "file:"+store.Path()+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`UPDATE stories SET stage = 'Legacy.Stage' WHERE id = ?`, story.ID); err != nil {
		t.Fatalf("raw update: %v", err)
	}
	before, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}

	_, err = mgr.TransitionTo(ctx, story.ID, stages.OutcomePass)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if !errors.Is(err, stages.ErrUnknownStage) {
		t.Fatalf("expected the unknown stage cause in the chain, got %v", err)
	}

	after, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if after.Stage != before.Stage || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("story modified: %+v -> %+v", before, after)
	}
}

func TestTransitionToTerminalStage(t *testing.T) {
	mgr, store := newManager(t)
	story := testsupport.MustCreateStory(t, store, "idea-1")
	testsupport.MustMoveTo(t, store, story.ID, "Published")

	_, err := mgr.TransitionTo(context.Background(), story.ID, stages.OutcomePass)
	if !errors.Is(err, queue.ErrInvalidTransition) || !errors.Is(err, stages.ErrNoTransitions) {
		t.Fatalf("expected ErrInvalidTransition wrapping ErrNoTransitions, got %v", err)
	}
}

func TestTransitionToRejectsClaimedStory(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")
	if _, err := store.ClaimStory(ctx, story, "worker-a", time.Minute); err != nil {
		t.Fatalf("ClaimStory: %v", err)
	}
	if _, err := mgr.TransitionTo(ctx, story.ID, stages.OutcomePass); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("claimed story: expected ErrConflict, got %v", err)
	}
}

func TestReviewRevision(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")
	rev := testsupport.MustInsertRevision(t, store, story.ID, stages.KindTitle, "title", nil)

	review, err := mgr.ReviewRevision(ctx, rev.ID(), lifecycle.ReviewInput{Text: "punchy", Score: 88})
	if err != nil {
		t.Fatalf("ReviewRevision: %v", err)
	}
	if review.Score() != 88 {
		t.Fatalf("score = %d", review.Score())
	}
	if _, err := mgr.ReviewRevision(ctx, rev.ID(), lifecycle.ReviewInput{Text: "again", Score: 10}); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("second review: expected ErrConflict, got %v", err)
	}
	if _, err := mgr.ReviewRevision(ctx, 9999, lifecycle.ReviewInput{Text: "ghost", Score: 10}); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("missing revision: expected ErrNotFound, got %v", err)
	}
	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Reviews != 1 {
		t.Fatalf("rolled back reviews persisted: %d", health.Reviews)
	}
}

func TestDraftFailsThreeTimesThenPasses(t *testing.T) {
	reg := testsupport.MustLoadRegistry(t, testsupport.DraftTable)
	mgr, store := newManager(t, queue.WithRegistry(reg))
	selector := selection.New(store)
	ctx := context.Background()

	story, err := mgr.CreateStory(ctx, "idea-draft")
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if story.Stage != "Draft" {
		t.Fatalf("initial stage = %q", story.Stage)
	}
	md, err := reg.MetadataFor("Draft")
	if err != nil {
		t.Fatalf("MetadataFor: %v", err)
	}

	outcomes := []stages.Outcome{stages.OutcomeFail, stages.OutcomeFail, stages.OutcomeFail, stages.OutcomePass}
	observed := []stages.Stage{story.Stage}
	for i, outcome := range outcomes {
		claim, err := selector.ClaimNext(ctx, "Draft", "worker-a", time.Minute)
		if err != nil || claim == nil {
			t.Fatalf("round %d: ClaimNext = %v, %v", i, claim, err)
		}
		version := int64(i)
		result, err := mgr.Finish(ctx, lifecycle.FinishRequest{
			Claim:   claim,
			Outcome: outcome,
			Revisions: []lifecycle.RevisionInput{{
				Kind:            stages.KindScript,
				Text:            "draft text",
				ExpectedVersion: &version,
				Review:          &lifecycle.ReviewInput{Text: "notes", Score: 20 * (i + 1)},
			}},
		})
		if err != nil {
			t.Fatalf("round %d: Finish: %v", i, err)
		}
		observed = append(observed, result.Story.Stage)
	}

	want := []stages.Stage{md.Stage, md.OnFail, md.OnFail, md.OnFail, md.OnPass}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("step %d: observed %v, want %v", i, observed, want)
		}
	}

	history, err := store.History(ctx, story.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i, tr := range history {
		if tr.From != want[i] || tr.To != want[i+1] || tr.Outcome != outcomes[i] || tr.WorkerID != "worker-a" {
			t.Fatalf("transition %d = %+v", i, tr)
		}
	}
	revs, err := store.Revisions(ctx, story.ID, stages.KindScript)
	if err != nil || len(revs) != 4 {
		t.Fatalf("Revisions = %d, %v", len(revs), err)
	}
}
