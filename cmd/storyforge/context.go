package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"storyforge/internal/config"
	"storyforge/internal/lifecycle"
	"storyforge/internal/logging"
	"storyforge/internal/queue"
)

// commandContext carries the global flags into subcommands and loads the
// config at most once per invocation.
type commandContext struct {
	configFlag *string
	jsonFlag   *bool
	loadConfig func() (*config.Config, error)
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	c := &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
	c.loadConfig = sync.OnceValues(func() (*config.Config, error) {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return cfg, nil
	})
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	return c.loadConfig()
}

// JSONMode reports whether --json was passed.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// withStore opens the story database for the duration of fn.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open story database: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withLifecycle is withStore plus a lifecycle manager that logs through the
// configured logger.
func (c *commandContext) withLifecycle(fn func(*lifecycle.Manager, *queue.Store) error) error {
	return c.withStore(func(store *queue.Store) error {
		mgr := lifecycle.New(store,
			lifecycle.WithLogger(logging.NewComponentLogger(c.logger(), "cli")),
		)
		return fn(mgr, store)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
