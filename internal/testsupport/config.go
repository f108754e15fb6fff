package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"storyforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp data directory per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.Database = "storyforge.db"
	cfgVal.Workflow.WorkerID = "test-worker"
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.LeaseSeconds = 30

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStageCommand registers an external command for stage.
func WithStageCommand(stage, command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages[stage] = config.StageCommand{Command: command, Args: args, TimeoutSeconds: 30}
	}
}

// WithWorkersPerStage sets the default worker count for every stage.
func WithWorkersPerStage(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.WorkersPerStage = n
	}
}

// WithStagesFile writes table into the temp dir and points the config at it.
func WithStagesFile(table string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "stages.toml")
		WriteFile(b.t, path, table)
		b.cfg.Pipeline.StagesFile = path
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			path := filepath.Join(binDir, name)
			WriteFile(b.t, path, "#!/bin/sh\nexit 0\n")
			if err := os.Chmod(path, 0o755); err != nil {
				b.t.Fatalf("chmod stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// WithStageScript writes a shell script and configures it as the command for
// stage.
func WithStageScript(stage, script string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "stages", stage+".sh")
		WriteFile(b.t, path, "#!/bin/sh\n"+script)
		if err := os.Chmod(path, 0o755); err != nil {
			b.t.Fatalf("chmod stage script %s: %v", stage, err)
		}
		if b.cfg.Stages == nil {
			b.cfg.Stages = map[string]config.StageCommand{}
		}
		b.cfg.Stages[stage] = config.StageCommand{Command: path, TimeoutSeconds: 30}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
