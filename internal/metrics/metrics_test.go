package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"storyforge/internal/metrics"
	"storyforge/internal/stages"
)

func TestCollectorsRecord(t *testing.T) {
	m := metrics.New()
	m.ObserveSelection("Draft", metrics.ResultClaimed)
	m.ObserveSelection("Draft", metrics.ResultClaimed)
	m.ObserveSelection("Draft", metrics.ResultEmpty)
	m.ObserveReclaimed("Draft", 3)
	m.ObserveReclaimed("Draft", 0)
	m.ObserveRevision(stages.KindScript)
	m.ObserveStageRun("Draft", "pass", 120*time.Millisecond)
	m.SetStoryCounts(map[stages.Stage]int{"Draft": 4, "Claimed:Draft": 1})

	expected := `
# HELP storyforge_selections_total Work selection attempts by stage and result.
# TYPE storyforge_selections_total counter
storyforge_selections_total{result="claimed",stage="Draft"} 2
storyforge_selections_total{result="empty",stage="Draft"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "storyforge_selections_total"); err != nil {
		t.Fatalf("selections: %v", err)
	}

	expected = `
# HELP storyforge_stories Stories currently stored at each stage, claimed ones under their marker.
# TYPE storyforge_stories gauge
storyforge_stories{stage="Claimed:Draft"} 1
storyforge_stories{stage="Draft"} 4
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "storyforge_stories"); err != nil {
		t.Fatalf("stories: %v", err)
	}

	count, err := testutil.GatherAndCount(m.Registry(), "storyforge_claims_reclaimed_total", "storyforge_revisions_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 series, got %d", count)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveSelection("Draft", metrics.ResultEmpty)
	m.ObserveReclaimed("Draft", 1)
	m.ObserveRevision(stages.KindTitle)
	m.ObserveStageRun("Draft", "fail", time.Second)
	m.SetStoryCounts(nil)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := metrics.New()
	m.ObserveRevision(stages.KindTitle)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `storyforge_revisions_total{kind="title"} 1`) {
		t.Fatalf("body missing revision counter:\n%s", rec.Body.String())
	}
}
