package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"storyforge/internal/logging"
	"storyforge/internal/metrics"
	"storyforge/internal/queue"
	"storyforge/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the stage workers in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context(), ctx)
		},
	}
}

func runWorkers(parent context.Context, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	handlers := workflow.CommandHandlers(cfg)
	if len(handlers) == 0 {
		return errors.New("no stage commands configured; add [stages.\"<name>\"] entries to the config")
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open story database: %w", err)
	}
	defer store.Close()

	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	collectors := metrics.New()
	if bind := cfg.Metrics.Bind; bind != "" {
		go func() {
			if err := collectors.Serve(runCtx, bind, logger); err != nil {
				logger.Error("metrics endpoint failed", logging.Error(err))
			}
		}()
	}

	mgr := workflow.NewManager(cfg, store, logger, workflow.WithMetrics(collectors))
	if err := mgr.ConfigureStages(handlers); err != nil {
		return err
	}
	if err := mgr.Start(runCtx); err != nil {
		return err
	}

	select {
	case <-runCtx.Done():
		logger.Info("shutdown requested")
		mgr.Stop()
	case <-mgr.Done():
	}

	summary := mgr.Status(context.WithoutCancel(parent))
	logger.Info("workers stopped",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
	)
	for _, health := range summary.StageHealth {
		if !health.Ready {
			logger.Warn("stage handler not ready", logging.String("health", health.String()))
		}
	}

	if err := mgr.Err(); err != nil {
		return fmt.Errorf("workers stopped: %w", err)
	}
	return nil
}
