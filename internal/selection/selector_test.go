package selection_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storyforge/internal/metrics"
	"storyforge/internal/queue"
	"storyforge/internal/selection"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

const initial = stages.Stage("Title.From.Idea")

type fixture struct {
	store    *queue.Store
	clock    *testsupport.Clock
	selector *selection.Selector
}

func newFixture(t *testing.T, opts ...selection.Option) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	return fixture{store: store, clock: clock, selector: selection.New(store, opts...)}
}

// storyWith creates a Story at the initial stage holding versions title
// revisions, the last one reviewed with score when score >= 0.
func (f fixture) storyWith(t *testing.T, versions, score int) *queue.Story {
	t.Helper()
	f.clock.Advance(time.Second)
	story := testsupport.MustCreateStory(t, f.store, fmt.Sprintf("idea-%d-%d", versions, score))
	for i := range versions {
		var s *int
		if i == versions-1 && score >= 0 {
			s = testsupport.Score(score)
		}
		testsupport.MustInsertRevision(t, f.store, story.ID, stages.KindTitle, fmt.Sprintf("title v%d", i), s)
	}
	return story
}

func TestNextForStageEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	story, err := f.selector.NextForStage(ctx, initial)
	if err != nil || story != nil {
		t.Fatalf("empty stage: %v, %v", story, err)
	}

	// A Story elsewhere does not count.
	other := testsupport.MustCreateStory(t, f.store, "idea-1")
	testsupport.MustMoveTo(t, f.store, other.ID, "Script.From.Title.Idea")
	story, err = f.selector.NextForStage(ctx, initial)
	if err != nil || story != nil {
		t.Fatalf("story at another stage was selected: %v, %v", story, err)
	}

	story, err = f.selector.NextForStage(ctx, "Script.From.Title.Idea")
	if err != nil || story == nil || story.ID != other.ID {
		t.Fatalf("NextForStage = %v, %v", story, err)
	}
}

func TestNextForStageRejectsUnknownAndTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.selector.NextForStage(ctx, "Nope"); !errors.Is(err, stages.ErrUnknownStage) {
		t.Fatalf("unknown stage: expected ErrUnknownStage, got %v", err)
	}
	if _, err := f.selector.NextForStage(ctx, "Published"); !errors.Is(err, stages.ErrNoTransitions) {
		t.Fatalf("terminal stage: expected ErrNoTransitions, got %v", err)
	}
}

func TestVersionProgressOutranksScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ahead := f.storyWith(t, 3, 100)
	middle := f.storyWith(t, 2, 90)
	behind := f.storyWith(t, 0, -1)
	oneBehind := f.storyWith(t, 1, 10)

	ranked, err := f.selector.Rank(ctx, initial)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	want := []int64{behind.ID, oneBehind.ID, middle.ID, ahead.ID}
	for i, c := range ranked {
		if c.Story.ID != want[i] {
			t.Fatalf("rank %d = story %d (version %d score %v), want %d", i, c.Story.ID, c.VersionKey, c.ScoreKey, want[i])
		}
	}
	if ranked[0].VersionKey != 0 || ranked[1].VersionKey != 1 || ranked[3].VersionKey != 3 {
		t.Fatalf("version keys = %d %d %d %d", ranked[0].VersionKey, ranked[1].VersionKey, ranked[2].VersionKey, ranked[3].VersionKey)
	}
}

func TestVersionKeyCountsRevisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One revision means version 0 exists and the key is 1, so the Story
	// without revisions goes first.
	one := f.storyWith(t, 1, 100)
	none := f.storyWith(t, 0, -1)
	next, err := f.selector.NextForStage(ctx, initial)
	if err != nil || next == nil || next.ID != none.ID {
		t.Fatalf("NextForStage = %v, %v; want story %d", next, err, none.ID)
	}

	key, err := selection.VersionKey(ctx, f.store, one.ID, stages.KindTitle)
	if err != nil || key != 1 {
		t.Fatalf("VersionKey = %d, %v", key, err)
	}
	testsupport.MustInsertRevision(t, f.store, one.ID, stages.KindScript, "script", nil)
	testsupport.MustInsertRevision(t, f.store, one.ID, stages.KindTitle, "title 2", nil)
	key, err = selection.VersionKey(ctx, f.store, one.ID, stages.KindBoth)
	if err != nil || key != 1 {
		t.Fatalf("VersionKey(both) = %d, %v; want the smaller count", key, err)
	}
}

func TestHigherScoreWinsAtEqualVersion(t *testing.T) {
	f := newFixture(t)
	low := f.storyWith(t, 1, 30)
	high := f.storyWith(t, 1, 90)

	next, err := f.selector.NextForStage(context.Background(), initial)
	if err != nil || next == nil {
		t.Fatalf("NextForStage: %v, %v", next, err)
	}
	if next.ID != high.ID {
		t.Fatalf("selected %d, want high-score story %d (low was %d)", next.ID, high.ID, low.ID)
	}
}

func TestOlderStoryWinsFullTie(t *testing.T) {
	f := newFixture(t)
	base := f.clock.Now()

	f.clock.Set(base.Add(time.Hour))
	newer := testsupport.MustCreateStory(t, f.store, "idea-newer")
	f.clock.Set(base)
	older := testsupport.MustCreateStory(t, f.store, "idea-older")
	if older.ID < newer.ID {
		t.Fatal("fixture expects the older story to have the larger id")
	}

	next, err := f.selector.NextForStage(context.Background(), initial)
	if err != nil || next == nil || next.ID != older.ID {
		t.Fatalf("NextForStage = %v, %v; want older story %d", next, err, older.ID)
	}
}

func TestNextForStageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.storyWith(t, 1, 50)
	f.storyWith(t, 1, 50)
	f.storyWith(t, 2, 70)

	ctx := context.Background()
	first, err := f.selector.NextForStage(ctx, initial)
	if err != nil || first == nil {
		t.Fatalf("first: %v, %v", first, err)
	}
	second, err := f.selector.NextForStage(ctx, initial)
	if err != nil || second == nil {
		t.Fatalf("second: %v, %v", second, err)
	}
	if first.ID != second.ID || !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatalf("selection changed without mutation: %d vs %d", first.ID, second.ID)
	}
}

func TestClaimNextReservesBestCandidate(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, selection.WithMetrics(m))
	ctx := context.Background()

	best := f.storyWith(t, 0, -1)
	runnerUp := f.storyWith(t, 1, 80)

	claim, err := f.selector.ClaimNext(ctx, initial, "worker-a", time.Minute)
	if err != nil || claim == nil {
		t.Fatalf("ClaimNext: %v, %v", claim, err)
	}
	if claim.StoryID != best.ID {
		t.Fatalf("claimed %d, want %d", claim.StoryID, best.ID)
	}

	// The claimed Story is no longer offered.
	next, err := f.selector.NextForStage(ctx, initial)
	if err != nil || next == nil || next.ID != runnerUp.ID {
		t.Fatalf("NextForStage after claim = %v, %v", next, err)
	}

	second, err := f.selector.ClaimNext(ctx, initial, "worker-b", time.Minute)
	if err != nil || second == nil || second.StoryID != runnerUp.ID {
		t.Fatalf("second ClaimNext = %v, %v", second, err)
	}
	none, err := f.selector.ClaimNext(ctx, initial, "worker-c", time.Minute)
	if err != nil || none != nil {
		t.Fatalf("drained stage = %v, %v", none, err)
	}
}

func TestClaimNextRecoversExpiredLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.storyWith(t, 0, -1)

	if _, err := f.selector.ClaimNext(ctx, initial, "crashed", time.Minute); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claim, err := f.selector.ClaimNext(ctx, initial, "worker-b", time.Minute); err != nil || claim != nil {
		t.Fatalf("live lease was reclaimed: %v, %v", claim, err)
	}

	f.clock.Advance(61 * time.Second)
	claim, err := f.selector.ClaimNext(ctx, initial, "worker-b", time.Minute)
	if err != nil || claim == nil || claim.StoryID != story.ID || claim.WorkerID != "worker-b" {
		t.Fatalf("ClaimNext after expiry = %+v, %v", claim, err)
	}
}

func TestConcurrentClaimNextNeverSharesAStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const stories = 4
	for range stories {
		f.storyWith(t, 0, -1)
	}

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int64]string)
		dupes   []int64
		others  []error
	)
	for i := range workers {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			claim, err := f.selector.ClaimNext(ctx, initial, worker, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, queue.ErrConflict):
			case err != nil:
				others = append(others, err)
			case claim != nil:
				if _, taken := claimed[claim.StoryID]; taken {
					dupes = append(dupes, claim.StoryID)
				}
				claimed[claim.StoryID] = worker
			}
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if len(dupes) > 0 {
		t.Fatalf("stories claimed twice: %v", dupes)
	}
	if len(claimed) == 0 || len(claimed) > stories {
		t.Fatalf("claimed %d stories", len(claimed))
	}
}

func TestRankInsideTransactionIgnoresConcurrentWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.storyWith(t, 0, -1)
	second := f.storyWith(t, 0, -1)
	md, err := f.store.Registry().MetadataFor(initial)
	if err != nil {
		t.Fatalf("MetadataFor: %v", err)
	}

	written := make(chan error, 1)
	err = f.store.WithTx(ctx, func(tx *queue.Tx) error {
		before, err := selection.Rank(ctx, tx, md)
		if err != nil {
			return err
		}
		go func() {
			_, err := f.store.InsertRevision(ctx, first.ID, stages.KindTitle, "title v0", nil)
			written <- err
		}()
		time.Sleep(50 * time.Millisecond)
		after, err := selection.Rank(ctx, tx, md)
		if err != nil {
			return err
		}
		if before[0].Story.ID != first.ID || after[0].Story.ID != first.ID {
			return fmt.Errorf("ranking moved inside one transaction: %d then %d", before[0].Story.ID, after[0].Story.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if err := <-written; err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}

	next, err := f.selector.NextForStage(ctx, initial)
	if err != nil {
		t.Fatalf("NextForStage: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected story %d to lead once the write landed, got %+v", second.ID, next)
	}
}
