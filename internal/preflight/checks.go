package preflight

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"storyforge/internal/config"
	"storyforge/internal/deps"
	"storyforge/internal/queue"
)

// DatabaseChecker is the part of the store preflight inspects.
type DatabaseChecker interface {
	Health(ctx context.Context) (queue.DatabaseHealth, error)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDatabase verifies the store is intact and holds no Story at a stage the
// current stage table does not declare.
func CheckDatabase(ctx context.Context, db DatabaseChecker) Result {
	const name = "Database"
	health, err := db.Health(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	var problems []string
	if !health.IntegrityOK {
		problems = append(problems, "integrity check failed")
	}
	if !health.ForeignKeys {
		problems = append(problems, "foreign keys disabled")
	}
	if len(health.UnknownStages) > 0 {
		problems = append(problems, "unknown stages: "+strings.Join(health.UnknownStages, ", "))
	}
	if len(problems) > 0 {
		return Result{Name: name, Detail: strings.Join(problems, "; ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d, %d stories)", health.DBPath, health.SchemaVersion, health.Stories)}
}

// CheckStageCommands reports whether every configured stage program can be
// found, in stage name order.
func CheckStageCommands(cfg *config.Config) []deps.Status {
	names := make([]string, 0, len(cfg.Stages))
	for name := range cfg.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	requirements := make([]deps.Requirement, 0, len(names))
	for _, name := range names {
		requirements = append(requirements, deps.Requirement{Name: name, Command: cfg.Stages[name].Command})
	}
	return deps.CheckBinaries(requirements)
}
