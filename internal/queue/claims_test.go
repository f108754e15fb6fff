package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyforge/internal/queue"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

func TestClaimStoryCompareAndSwap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")

	claim, err := store.ClaimStory(ctx, story, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimStory: %v", err)
	}
	if claim.Stage != stages.Stage("Title.From.Idea") || claim.WorkerID != "worker-a" {
		t.Fatalf("claim = %+v", claim)
	}

	// The snapshot is stale now, so a second worker loses.
	if _, err := store.ClaimStory(ctx, story, "worker-b", time.Minute); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("stale claim: expected ErrConflict, got %v", err)
	}

	got, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if !got.IsClaimed() || got.ClaimedBy != "worker-a" || got.BaseStage() != claim.Stage {
		t.Fatalf("stored story = %+v", got)
	}
	if got.Stage != stages.ClaimMarker(claim.Stage) {
		t.Fatalf("stage = %q", got.Stage)
	}
	if !got.UpdatedAt.After(story.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v -> %v", story.UpdatedAt, got.UpdatedAt)
	}
	if _, err := store.ClaimStory(ctx, got, "worker-b", time.Minute); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("claimed story: expected ErrConflict, got %v", err)
	}

	waiting, err := store.StoriesAtStage(ctx, claim.Stage)
	if err != nil {
		t.Fatalf("StoriesAtStage: %v", err)
	}
	if len(waiting) != 0 {
		t.Fatalf("claimed story still listed at base stage")
	}
}

func TestClaimStoryValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")

	if _, err := store.ClaimStory(ctx, story, " ", time.Minute); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("empty worker: expected ErrValidation, got %v", err)
	}
	if _, err := store.ClaimStory(ctx, story, "w", 0); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("zero lease: expected ErrValidation, got %v", err)
	}

	published := testsupport.MustMoveTo(t, store, story.ID, "Published")
	if _, err := store.ClaimStory(ctx, published, "w", time.Minute); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("terminal claim: expected ErrInvalidTransition, got %v", err)
	}
}

func TestRenewAndReleaseClaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")

	claim, err := store.ClaimStory(ctx, story, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimStory: %v", err)
	}
	clock.Advance(45 * time.Second)
	if err := store.RenewClaim(ctx, claim, time.Minute); err != nil {
		t.Fatalf("RenewClaim: %v", err)
	}
	clock.Advance(45 * time.Second)
	if n, err := store.ReclaimExpired(ctx); err != nil || n != 0 {
		t.Fatalf("renewed lease reclaimed: %d, %v", n, err)
	}

	if err := store.ReleaseClaim(ctx, claim); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	got, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.IsClaimed() || got.Stage != claim.Stage || got.LeaseExpiresAt != nil {
		t.Fatalf("released story = %+v", got)
	}
	if err := store.ReleaseClaim(ctx, claim); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("double release: expected ErrConflict, got %v", err)
	}
	if err := store.RenewClaim(ctx, claim, time.Minute); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("renew after release: expected ErrConflict, got %v", err)
	}
}

func TestReclaimExpiredReturnsStoryToStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock()
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()
	story := testsupport.MustCreateStory(t, store, "idea-1")

	claim, err := store.ClaimStory(ctx, story, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimStory: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if err := store.RenewClaim(ctx, claim, time.Minute); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("renew expired: expected ErrConflict, got %v", err)
	}
	if n, err := store.ReclaimExpired(ctx, "Script.From.Title.Idea"); err != nil || n != 0 {
		t.Fatalf("reclaim other stage: %d, %v", n, err)
	}
	n, err := store.ReclaimExpired(ctx, claim.Stage)
	if err != nil || n != 1 {
		t.Fatalf("ReclaimExpired = %d, %v", n, err)
	}

	waiting, err := store.StoriesAtStage(ctx, claim.Stage)
	if err != nil {
		t.Fatalf("StoriesAtStage: %v", err)
	}
	if len(waiting) != 1 || waiting[0].ID != story.ID || waiting[0].IsClaimed() {
		t.Fatalf("reclaimed story = %+v", waiting)
	}

	// A second worker can now claim from the fresh snapshot.
	if _, err := store.ClaimStory(ctx, waiting[0], "worker-b", time.Minute); err != nil {
		t.Fatalf("claim after reclaim: %v", err)
	}
	if err := store.ReleaseClaim(ctx, claim); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("stale release: expected ErrConflict, got %v", err)
	}
}
