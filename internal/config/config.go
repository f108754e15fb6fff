package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the data directory and database location.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	Database string `toml:"database"`
}

// Pipeline contains stage table and story creation settings.
type Pipeline struct {
	// StagesFile points at a custom stage table. Empty uses the built-in table.
	StagesFile string `toml:"stages_file"`
	// FanOut is the number of sibling stories created per idea by default.
	FanOut int `toml:"fan_out"`
}

// Workflow contains configuration for worker timing and leases.
type Workflow struct {
	PollInterval       int    `toml:"poll_interval"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	HeartbeatInterval  int    `toml:"heartbeat_interval"`
	LeaseSeconds       int    `toml:"lease_seconds"`
	WorkersPerStage    int    `toml:"workers_per_stage"`
	WorkerID           string `toml:"worker_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Metrics contains the Prometheus endpoint configuration.
type Metrics struct {
	// Bind is the listen address for /metrics. Empty disables the endpoint.
	Bind string `toml:"bind"`
}

// Notifications contains the ntfy settings.
type Notifications struct {
	// NtfyTopic is the full topic URL. Empty disables notifications.
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// StageCommand configures the external program that performs work for one stage.
type StageCommand struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	// Workers overrides workflow.workers_per_stage for this stage.
	Workers int `toml:"workers"`
}

// Config encapsulates all configuration values for storyforge.
//
// Configuration sections by subsystem:
//   - Paths: data directory and database file
//   - Pipeline: stage table source and idea fan-out
//   - Workflow: polling intervals, lease length, worker counts
//   - Logging: log format, level, and per-stage overrides
//   - Metrics: Prometheus listen address
//   - Notifications: ntfy topic for publish and failure events
//   - Stages: external command per stage name
type Config struct {
	Paths         Paths                   `toml:"paths"`
	Pipeline      Pipeline                `toml:"pipeline"`
	Workflow      Workflow                `toml:"workflow"`
	Logging       Logging                 `toml:"logging"`
	Metrics       Metrics                 `toml:"metrics"`
	Notifications Notifications           `toml:"notifications"`
	Stages        map[string]StageCommand `toml:"stages"`
}

// DefaultConfigPath is ~/.config/storyforge/config.toml, expanded.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Load reads the config at path, or the first file found among the default
// locations when path is empty, over Default(). It returns the file it used
// and whether that file existed; a missing file leaves pure defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// decodeFile applies the TOML at path onto cfg, rejecting keys Config does
// not declare and pointing at the offending line when it can.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err = decoder.Decode(cfg)

	var strict *toml.StrictMissingError
	var syntax *toml.DecodeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &strict):
		return fmt.Errorf("parse config %s: unknown keys:\n%s", path, strict.String())
	case errors.As(err, &syntax):
		row, col := syntax.Position()
		return fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
	default:
		return fmt.Errorf("parse config %s: %w", path, err)
	}
}

// resolveConfigPath honours an explicit path even when the file is missing.
// Otherwise it tries the user config, then ./storyforge.toml.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := ExpandPath(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates the data directory and the database parent directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, filepath.Dir(c.DatabasePath())} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the absolute SQLite file location.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Paths.Database) {
		return c.Paths.Database
	}
	return filepath.Join(c.Paths.DataDir, c.Paths.Database)
}

// PollInterval returns the idle wait between selection attempts.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// ErrorRetryInterval returns the wait after a failed poll.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// HeartbeatInterval returns how often a running worker renews its lease.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// LeaseDuration returns how long a claim stays valid without renewal.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Workflow.LeaseSeconds) * time.Second
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// WorkersFor returns the number of concurrent workers configured for a stage.
func (c *Config) WorkersFor(stage string) int {
	if cmd, ok := c.Stages[stage]; ok && cmd.Workers > 0 {
		return cmd.Workers
	}
	return c.Workflow.WorkersPerStage
}

// ExpandPath resolves a leading "~" to the home directory and returns the
// cleaned absolute path. The empty string stays empty.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || os.IsPathSeparator(rest[0])) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}
	return absolute, nil
}

// CreateSample writes the annotated sample config to path, creating parent
// directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
