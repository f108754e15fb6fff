package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyforge/internal/preflight"
	"storyforge/internal/queue"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the preflight checks the workers run at startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				results := preflight.RunAll(cmd.Context(), cfg, store)
				failed := preflight.Failed(results)
				if ctx.JSONMode() {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, r := range results {
						kind := statusOK
						if !r.Passed {
							kind = statusError
						}
						fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
					}
				}
				if len(failed) > 0 {
					return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
				}
				return nil
			})
		},
	}
}
