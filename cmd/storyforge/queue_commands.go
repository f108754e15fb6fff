package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyforge/internal/queue"
	"storyforge/internal/selection"
	"storyforge/internal/stages"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the work queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRankCommand(ctx))
	queueCmd.AddCommand(newQueueNextCommand(ctx))
	queueCmd.AddCommand(newQueueReclaimCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

type stageCount struct {
	Stage stages.Stage `json:"stage"`
	Count int          `json:"count"`
}

// orderStats lists counts in table order; claim markers and stages the
// table does not know follow, sorted by name.
func orderStats(reg *stages.Registry, stats map[stages.Stage]int) []stageCount {
	out := make([]stageCount, 0, len(stats))
	seen := make(map[stages.Stage]bool, len(stats))
	for _, name := range reg.AllStages() {
		if n, ok := stats[name]; ok {
			out = append(out, stageCount{Stage: name, Count: n})
			seen[name] = true
		}
	}
	var rest []stages.Stage
	for name := range stats {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, name := range rest {
		out = append(out, stageCount{Stage: name, Count: stats[name]})
	}
	return out
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stories per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				counts := orderStats(store.Registry(), stats)
				if ctx.JSONMode() {
					return writeJSON(cmd, counts)
				}
				if len(counts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(counts))
				for _, c := range counts {
					rows = append(rows, []string{string(c.Stage), strconv.Itoa(c.Count)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "Stage"},
					{header: "Count", right: true},
				}, rows))
				return nil
			})
		},
	}
}

func newQueueRankCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "rank <stage>",
		Short: "Show waiting stories in the order workers will take them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				selector := selection.New(store)
				ranked, err := selector.Rank(cmd.Context(), stages.Stage(strings.TrimSpace(args[0])))
				if err != nil {
					return err
				}
				if limit > 0 && len(ranked) > limit {
					ranked = ranked[:limit]
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, ranked)
				}
				if len(ranked) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No stories waiting at %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(ranked))
				for i, c := range ranked {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						strconv.FormatInt(c.Story.ID, 10),
						c.Story.IdeaRef,
						strconv.Itoa(c.VersionKey),
						strconv.FormatFloat(c.ScoreKey, 'f', 1, 64),
						formatTime(c.AgeKey()),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "#", right: true},
					{header: "Story", right: true},
					{header: "Idea", maxWidth: 32},
					{header: "Versions", right: true},
					{header: "Score", right: true},
					{header: "Created"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many stories")
	return cmd
}

func newQueueNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next <stage>",
		Short: "Show the story a worker would take next, without claiming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				story, err := selection.New(store).NextForStage(cmd.Context(), stages.Stage(strings.TrimSpace(args[0])))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, story)
				}
				if story == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "No stories waiting at %s\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Next at %s: story #%d (%s)\n", args[0], story.ID, story.IdeaRef)
				return nil
			})
		},
	}
}

func newQueueReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim [stage...]",
		Short: "Return stories with expired leases to their stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			only := make([]stages.Stage, 0, len(args))
			for _, arg := range args {
				only = append(only, stages.Stage(strings.TrimSpace(arg)))
			}
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.ReclaimExpired(cmd.Context(), only...)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]int64{"reclaimed": count})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d expired claims\n", count)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check story database health (schema, integrity, claims)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Journal mode: %s\n", health.JournalMode)
				fmt.Fprintf(out, "Foreign keys: %s\n", yesNo(health.ForeignKeys))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityOK))
				fmt.Fprintf(out, "Stories: %d\n", health.Stories)
				fmt.Fprintf(out, "Revisions: %d\n", health.Revisions)
				fmt.Fprintf(out, "Reviews: %d\n", health.Reviews)
				fmt.Fprintf(out, "Claimed: %d (%d expired)\n", health.Claimed, health.ExpiredClaims)
				if len(health.UnknownStages) > 0 {
					fmt.Fprintf(out, "Unknown stages: %s\n", strings.Join(health.UnknownStages, ", "))
				} else {
					fmt.Fprintln(out, "Unknown stages: none")
				}
				return nil
			})
		},
	}
}
