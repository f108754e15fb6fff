package preflight

import (
	"context"
	"fmt"

	"storyforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes every applicable preflight check for the given config. The
// database check runs only when db is non-nil.
func RunAll(ctx context.Context, cfg *config.Config, db DatabaseChecker) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))

	if db != nil {
		results = append(results, CheckDatabase(ctx, db))
	}

	for _, status := range CheckStageCommands(cfg) {
		result := Result{Name: fmt.Sprintf("Stage %s", status.Name), Passed: status.Available, Detail: status.Path}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
