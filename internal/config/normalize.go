package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeLogging()
	c.normalizeStages()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotificationTimeout
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Paths.Database = strings.TrimSpace(c.Paths.Database)
	if c.Paths.Database == "" {
		c.Paths.Database = defaultDatabase
	}
	if strings.HasPrefix(c.Paths.Database, "~") {
		if c.Paths.Database, err = ExpandPath(c.Paths.Database); err != nil {
			return fmt.Errorf("paths.database: %w", err)
		}
	}
	if c.Pipeline.StagesFile = strings.TrimSpace(c.Pipeline.StagesFile); c.Pipeline.StagesFile != "" {
		if c.Pipeline.StagesFile, err = ExpandPath(c.Pipeline.StagesFile); err != nil {
			return fmt.Errorf("pipeline.stages_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.WorkerID = strings.TrimSpace(c.Workflow.WorkerID)
	if c.Workflow.WorkerID == "" {
		if value, ok := os.LookupEnv("STORYFORGE_WORKER_ID"); ok {
			c.Workflow.WorkerID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	overrides := make(map[string]string, len(c.Logging.StageOverrides))
	for stage, level := range c.Logging.StageOverrides {
		stage = strings.TrimSpace(stage)
		level = strings.ToLower(strings.TrimSpace(level))
		if stage == "" || level == "" {
			continue
		}
		overrides[stage] = level
	}
	c.Logging.StageOverrides = overrides
}

func (c *Config) normalizeStages() {
	stages := make(map[string]StageCommand, len(c.Stages))
	for name, cmd := range c.Stages {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cmd.Command = strings.TrimSpace(cmd.Command)
		if cmd.TimeoutSeconds == 0 {
			cmd.TimeoutSeconds = defaultStageTimeoutSeconds
		}
		stages[name] = cmd
	}
	c.Stages = stages
}
