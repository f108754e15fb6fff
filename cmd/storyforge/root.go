package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var jsonFlag bool

	ctx := newCommandContext(&configFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "storyforge",
		Short:         "Move Stories through generation, review, and refinement stages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of tables")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Stories and content:"},
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	groups := []struct {
		id       string
		commands []*cobra.Command
	}{
		{"data", []*cobra.Command{newStoryCommand(ctx), newRevisionCommand(ctx), newReviewCommand(ctx)}},
		{"pipeline", []*cobra.Command{newStageCommand(ctx), newQueueCommand(ctx), newRunCommand(ctx)}},
		{"setup", []*cobra.Command{newCheckCommand(ctx), newConfigCommand(ctx), newNotifyCommand(ctx)}},
	}
	for _, group := range groups {
		for _, cmd := range group.commands {
			cmd.GroupID = group.id
			rootCmd.AddCommand(cmd)
		}
	}
	return rootCmd
}
