package main

import (
	"context"
	"testing"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/stages"
	"storyforge/internal/testsupport"
)

const passingWriter = `cat >/dev/null
echo '{"outcome":"pass","text":"a finished script"}'
`

func TestRunAdvancesStoriesWithStageCommands(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStageScript("Draft", passingWriter))
	store := env.store(t)
	story := testsupport.MustCreateStory(t, store, "idea-1")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, _, err := runCLIContext(ctx, t, env, "", "run")
		errCh <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		got, err := store.GetStory(t.Context(), story.ID)
		if err != nil {
			t.Fatalf("GetStory: %v", err)
		}
		if got.Stage == "Review" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("story still at %s", got.Stage)
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	latest, err := store.LatestRevision(t.Context(), story.ID, stages.KindScript)
	if err != nil || latest == nil {
		t.Fatalf("LatestRevision: %v, %v", latest, err)
	}
	if latest.Text() != "a finished script" {
		t.Fatalf("script = %q", latest.Text())
	}
}

func TestRunRequiresStageCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, "run")
	if err == nil {
		t.Fatal("expected error without stage commands")
	}
	requireContains(t, err.Error(), "no stage commands configured")
}

func TestCheckReportsMissingStageCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Stages["Draft"] = config.StageCommand{Command: "/nonexistent/storyforge-writer", TimeoutSeconds: 5}
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, env, "check")
	if err == nil {
		t.Fatal("expected failing checks")
	}
	requireContains(t, out, "Data directory:")
	requireContains(t, out, "Database:")
	requireContains(t, out, "Stage Draft:")
	requireContains(t, out, "[ERROR]")
}

func TestCheckPassesWithWorkingCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStageScript("Draft", passingWriter))

	out, _, err := runCLI(t, env, "check")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "[OK]")
}
