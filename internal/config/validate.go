package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be >= 0")
	}
	return c.validateStages()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.FanOut < 1 {
		return errors.New("pipeline.fan_out must be >= 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.lease_seconds":        c.Workflow.LeaseSeconds,
		"workflow.workers_per_stage":    c.Workflow.WorkersPerStage,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseSeconds <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_seconds must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if err := validLevel("logging.level", c.Logging.Level); err != nil {
		return err
	}
	for stage, level := range c.Logging.StageOverrides {
		if err := validLevel("logging.stage_overrides."+stage, level); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	names := make([]string, 0, len(c.Stages))
	for name := range c.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := c.Stages[name]
		if cmd.Command == "" {
			return fmt.Errorf("stages.%q.command must be set", name)
		}
		if cmd.TimeoutSeconds < 0 {
			return fmt.Errorf("stages.%q.timeout_seconds must be >= 0", name)
		}
		if cmd.Workers < 0 {
			return fmt.Errorf("stages.%q.workers must be >= 0", name)
		}
	}
	return nil
}

func validLevel(field, level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("%s: unsupported level %q", field, level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
