package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storyforge/internal/queue"
	"storyforge/internal/selection"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

func TestQueueRankAndNext(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.store(t)

	older := testsupport.MustCreateStory(t, store, "older")
	newer := testsupport.MustCreateStory(t, store, "newer")
	testsupport.MustInsertRevision(t, store, older.ID, stages.KindScript, "v0", testsupport.Score(95))
	testsupport.MustInsertRevision(t, store, newer.ID, stages.KindScript, "v0", testsupport.Score(10))
	testsupport.MustInsertRevision(t, store, newer.ID, stages.KindScript, "v1", testsupport.Score(10))

	out, _, err := runCLI(t, env, "--json", "queue", "rank", "Draft")
	if err != nil {
		t.Fatalf("queue rank: %v", err)
	}
	var ranked []selection.Candidate
	if err := json.Unmarshal([]byte(out), &ranked); err != nil {
		t.Fatalf("decode rank: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Story.ID != newer.ID || ranked[0].VersionKey != 2 {
		t.Fatalf("unexpected ranking %+v", ranked)
	}

	out, _, err = runCLI(t, env, "queue", "next", "Draft")
	if err != nil {
		t.Fatalf("queue next: %v", err)
	}
	requireContains(t, out, "story #"+itoa(newer.ID))

	out, _, err = runCLI(t, env, "queue", "rank", "Draft", "--limit", "1")
	if err != nil {
		t.Fatalf("queue rank --limit: %v", err)
	}
	requireContains(t, out, "newer")

	if _, _, err := runCLI(t, env, "queue", "rank", "Review"); !errors.Is(err, stages.ErrNoTransitions) {
		t.Fatalf("rank terminal stage: expected ErrNoTransitions, got %v", err)
	}
	if _, _, err := runCLI(t, env, "queue", "next", "Nowhere"); !errors.Is(err, stages.ErrUnknownStage) {
		t.Fatalf("next unknown stage: expected ErrUnknownStage, got %v", err)
	}
}

func TestQueueReclaimStatsAndHealth(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.store(t)

	story := testsupport.MustCreateStory(t, store, "idea-1")
	testsupport.MustCreateStory(t, store, "idea-2")
	if _, err := store.ClaimStory(t.Context(), story, "worker-a", time.Millisecond); err != nil {
		t.Fatalf("ClaimStory: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	out, _, err := runCLI(t, env, "--json", "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	var counts []stageCount
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(counts) != 2 || counts[0].Stage != "Draft" || counts[1].Stage != stages.ClaimMarker("Draft") {
		t.Fatalf("unexpected stats %+v", counts)
	}

	out, _, err = runCLI(t, env, "queue", "reclaim", "Draft")
	if err != nil {
		t.Fatalf("queue reclaim: %v", err)
	}
	requireContains(t, out, "Reclaimed 1 expired claims")

	out, _, err = runCLI(t, env, "--json", "queue", "health")
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	var health queue.DatabaseHealth
	if err := json.Unmarshal([]byte(out), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !health.IntegrityOK || health.Stories != 2 || health.Claimed != 0 {
		t.Fatalf("unexpected health %+v", health)
	}

	out, _, err = runCLI(t, env, "queue", "health")
	if err != nil {
		t.Fatalf("queue health text: %v", err)
	}
	requireContains(t, out, "Integrity check: yes")
}

func TestOrderStatsPutsUnknownStagesLast(t *testing.T) {
	reg := testsupport.MustLoadRegistry(t, testsupport.DraftTable)
	got := orderStats(reg, map[stages.Stage]int{
		"Review":        1,
		"Claimed:Draft": 2,
		"Draft":         3,
		"Archived":      4,
	})
	want := []stages.Stage{"Draft", "Review", "Archived", "Claimed:Draft"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Stage != name {
			t.Fatalf("entry %d = %s, want %s", i, got[i].Stage, name)
		}
	}
}
