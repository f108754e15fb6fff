package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"storyforge/internal/queue"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

func TestRevisionAddPinnedVersion(t *testing.T) {
	env := setupCLITestEnv(t)
	story := testsupport.MustCreateStory(t, env.store(t), "idea-1")
	id := itoa(story.ID)

	if _, _, err := runCLI(t, env, "revision", "add", id, "--text", "first", "--version", "0"); err != nil {
		t.Fatalf("revision add v0: %v", err)
	}
	if _, _, err := runCLI(t, env, "revision", "add", id, "--text", "again", "--version", "0"); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("stale version: expected ErrConflict, got %v", err)
	}
	if _, _, err := runCLI(t, env, "revision", "add", id, "--text", "bad", "--score", "101"); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("out of range score: expected ErrValidation, got %v", err)
	}

	revs, err := env.store(t).Revisions(t.Context(), story.ID, stages.KindScript)
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if len(revs) != 1 || revs[0].Text() != "first" {
		t.Fatalf("expected only the first revision to persist, got %d", len(revs))
	}
	reviews, err := env.store(t).Health(t.Context())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if reviews.Reviews != 0 {
		t.Fatalf("rejected revision left %d reviews behind", reviews.Reviews)
	}
}

func TestRevisionAddReadsFileAndStdin(t *testing.T) {
	env := setupCLITestEnv(t)
	story := testsupport.MustCreateStory(t, env.store(t), "idea-1")
	id := itoa(story.ID)

	path := filepath.Join(t.TempDir(), "script.txt")
	testsupport.WriteFile(t, path, "from a file\nsecond line\n")
	if _, _, err := runCLI(t, env, "revision", "add", id, "--file", path); err != nil {
		t.Fatalf("revision add --file: %v", err)
	}
	if _, _, err := runCLIContext(t.Context(), t, env, "from stdin", "revision", "add", id, "--kind", "title", "--file", "-"); err != nil {
		t.Fatalf("revision add stdin: %v", err)
	}
	if _, _, err := runCLI(t, env, "revision", "add", id); err == nil {
		t.Fatal("expected error without text")
	}

	out, _, err := runCLI(t, env, "revision", "list", id)
	if err != nil {
		t.Fatalf("revision list: %v", err)
	}
	requireContains(t, out, "from a file")
	requireContains(t, out, "from stdin")

	out, _, err = runCLI(t, env, "--json", "revision", "list", id, "--kind", "title")
	if err != nil {
		t.Fatalf("revision list --kind: %v", err)
	}
	var listed []struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 1 || listed[0].Kind != "title" {
		t.Fatalf("unexpected title list %+v", listed)
	}
}

func TestReviewAttachAndLink(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.store(t)
	story := testsupport.MustCreateStory(t, store, "idea-1")
	rev := testsupport.MustInsertRevision(t, store, story.ID, stages.KindScript, "draft", nil)

	out, _, err := runCLI(t, env, "review", "attach", itoa(rev.ID()), "--score", "55", "--text", "needs work")
	if err != nil {
		t.Fatalf("review attach: %v", err)
	}
	requireContains(t, out, "Attached review")
	if _, _, err := runCLI(t, env, "review", "attach", itoa(rev.ID()), "--score", "90"); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("second attach: expected ErrConflict, got %v", err)
	}

	out, _, err = runCLI(t, env, "revision", "show", itoa(rev.ID()))
	if err != nil {
		t.Fatalf("revision show: %v", err)
	}
	requireContains(t, out, "score 55")
	requireContains(t, out, "needs work")

	if _, _, err := runCLI(t, env, "review", "link", itoa(story.ID), "--type", "coherence", "--version", "0", "--score", "88"); err != nil {
		t.Fatalf("review link: %v", err)
	}
	if _, _, err := runCLI(t, env, "review", "link", itoa(story.ID), "--type", "coherence", "--version", "0", "--score", "10"); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("duplicate link: expected ErrConflict, got %v", err)
	}
	if _, _, err := runCLI(t, env, "review", "link", itoa(story.ID), "--type", "pacing"); err == nil {
		t.Fatal("expected error without --score or --review-id")
	}

	out, _, err = runCLI(t, env, "review", "list", itoa(story.ID))
	if err != nil {
		t.Fatalf("review list: %v", err)
	}
	requireContains(t, out, "coherence")
	requireContains(t, out, "88")

	health, err := store.Health(t.Context())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Reviews != 2 {
		t.Fatalf("reviews = %d, want 2 (rolled back duplicates leave nothing)", health.Reviews)
	}
}
