package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyforge/internal/lifecycle"
	"storyforge/internal/notifications"
	"storyforge/internal/queue"
	"storyforge/internal/scoring"
	"storyforge/internal/stages"
)

func newStoryCommand(ctx *commandContext) *cobra.Command {
	storyCmd := &cobra.Command{
		Use:   "story",
		Short: "Create and inspect stories",
	}

	storyCmd.AddCommand(newStoryCreateCommand(ctx))
	storyCmd.AddCommand(newStoryFanOutCommand(ctx))
	storyCmd.AddCommand(newStoryListCommand(ctx))
	storyCmd.AddCommand(newStoryShowCommand(ctx))
	storyCmd.AddCommand(newStoryHistoryCommand(ctx))
	storyCmd.AddCommand(newStoryTransitionCommand(ctx))

	return storyCmd
}

func newStoryCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <idea-ref>",
		Short: "Create a story at the initial stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLifecycle(func(mgr *lifecycle.Manager, _ *queue.Store) error {
				story, err := mgr.CreateStory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, story)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created story #%d at %s\n", story.ID, story.Stage)
				return nil
			})
		},
	}
}

func newStoryFanOutCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "fanout <idea-ref>",
		Short: "Create sibling stories for one idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			n := count
			if n == 0 {
				n = cfg.Pipeline.FanOut
			}
			return ctx.withLifecycle(func(mgr *lifecycle.Manager, _ *queue.Store) error {
				created, err := mgr.FanOut(cmd.Context(), args[0], n)
				if err != nil {
					return err
				}
				payload := notifications.Payload{"count": len(created), "idea": strings.TrimSpace(args[0])}
				if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventFanOut, payload); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: fan-out notification failed: %v\n", err)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, created)
				}
				ids := make([]string, len(created))
				for i, story := range created {
					ids[i] = "#" + strconv.FormatInt(story.ID, 10)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d stories for %s: %s\n", len(created), strings.TrimSpace(args[0]), strings.Join(ids, " "))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of stories (default pipeline.fan_out)")
	return cmd
}

func newStoryListCommand(ctx *commandContext) *cobra.Command {
	var stageFilter []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				filter := make([]stages.Stage, 0, len(stageFilter))
				for _, name := range stageFilter {
					filter = append(filter, stages.Stage(strings.TrimSpace(name)))
				}
				stories, err := store.ListStories(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, stories)
				}
				if len(stories) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stories")
					return nil
				}
				rows := make([][]string, 0, len(stories))
				for _, story := range stories {
					rows = append(rows, []string{
						strconv.FormatInt(story.ID, 10),
						story.IdeaRef,
						string(story.Stage),
						story.ClaimedBy,
						formatTime(story.UpdatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "ID", right: true},
					{header: "Idea", maxWidth: 32},
					{header: "Stage"},
					{header: "Worker"},
					{header: "Updated"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&stageFilter, "stage", "s", nil, "Filter by stage (repeatable)")
	return cmd
}

type storyDetail struct {
	Story   *queue.Story            `json:"story"`
	Title   *queue.Revision         `json:"title,omitempty"`
	Script  *queue.Revision         `json:"script,omitempty"`
	Score   float64                 `json:"score"`
	Reviews []queue.StoryReviewLink `json:"story_reviews,omitempty"`
}

func loadStoryDetail(ctx context.Context, store *queue.Store, id int64) (*storyDetail, error) {
	story, err := store.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, queue.Wrap(queue.ErrNotFound, "show story", fmt.Sprintf("story %d", id), nil)
	}
	detail := &storyDetail{Story: story}
	if detail.Title, err = store.LatestRevision(ctx, id, stages.KindTitle); err != nil {
		return nil, err
	}
	if detail.Script, err = store.LatestRevision(ctx, id, stages.KindScript); err != nil {
		return nil, err
	}
	if detail.Score, err = scoring.New(store).ScoreFor(ctx, id, stages.KindBoth); err != nil {
		return nil, err
	}
	if detail.Reviews, err = store.StoryReviews(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func newStoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <story-id>",
		Short: "Show a story with its latest revisions and score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				detail, err := loadStoryDetail(cmd.Context(), store, id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, detail)
				}
				out := cmd.OutOrStdout()
				story := detail.Story
				fmt.Fprintf(out, "Story #%d\n", story.ID)
				fmt.Fprintf(out, "Idea: %s\n", story.IdeaRef)
				fmt.Fprintf(out, "Stage: %s\n", story.Stage)
				if story.IsClaimed() {
					fmt.Fprintf(out, "Claimed by: %s\n", story.ClaimedBy)
					if story.LeaseExpiresAt != nil {
						fmt.Fprintf(out, "Lease expires: %s\n", formatTime(*story.LeaseExpiresAt))
					}
				}
				fmt.Fprintf(out, "Created: %s\n", formatTime(story.CreatedAt))
				fmt.Fprintf(out, "Updated: %s\n", formatTime(story.UpdatedAt))
				fmt.Fprintf(out, "Score: %.1f\n", detail.Score)
				for _, rev := range []*queue.Revision{detail.Title, detail.Script} {
					if rev == nil {
						continue
					}
					fmt.Fprintf(out, "%s v%d: %s\n", label(string(rev.Kind())), rev.Version(), firstLine(rev.Text()))
				}
				if len(detail.Reviews) > 0 {
					fmt.Fprintf(out, "Story reviews: %d\n", len(detail.Reviews))
				}
				return nil
			})
		},
	}
}

func newStoryHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <story-id>",
		Short: "Show the transition history of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				history, err := store.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, history)
				}
				if len(history) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Story #%d has no transitions\n", id)
					return nil
				}
				rows := make([][]string, 0, len(history))
				for _, tr := range history {
					rows = append(rows, []string{
						formatTime(tr.CreatedAt),
						string(tr.From),
						string(tr.To),
						string(tr.Outcome),
						tr.WorkerID,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "When"},
					{header: "From"},
					{header: "To"},
					{header: "Outcome"},
					{header: "Worker"},
				}, rows))
				return nil
			})
		},
	}
}

func newStoryTransitionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <story-id> <pass|fail>",
		Short: "Move an unclaimed story along its stage's declared edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			outcome, err := stages.ParseOutcome(args[1])
			if err != nil {
				return err
			}
			return ctx.withLifecycle(func(mgr *lifecycle.Manager, _ *queue.Store) error {
				story, err := mgr.TransitionTo(cmd.Context(), id, outcome)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, story)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Story #%d moved to %s\n", story.ID, story.Stage)
				return nil
			})
		},
	}
}

func parseID(value, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(value), "#"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s id %q", what, value)
	}
	return id, nil
}
