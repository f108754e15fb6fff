package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNotifyTestPostsToTopic(t *testing.T) {
	var hits atomic.Int32
	var title atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		title.Store(r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	env := setupCLITestEnv(t)
	env.cfg.Notifications.NtfyTopic = srv.URL
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, env, "notify", "test")
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if hits.Load() != 1 {
		t.Fatalf("server saw %d requests, want 1", hits.Load())
	}
	if got, _ := title.Load().(string); got == "" {
		t.Fatal("expected a Title header")
	}
}

func TestNotifyTestWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "notify", "test")
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}
