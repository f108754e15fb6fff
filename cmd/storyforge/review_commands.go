package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"storyforge/internal/lifecycle"
	"storyforge/internal/queue"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Record scored reviews",
	}

	reviewCmd.AddCommand(newReviewAddCommand(ctx))
	reviewCmd.AddCommand(newReviewAttachCommand(ctx))
	reviewCmd.AddCommand(newReviewLinkCommand(ctx))
	reviewCmd.AddCommand(newReviewListCommand(ctx))

	return reviewCmd
}

const defaultReviewText = "manual review"

func addReviewFlags(cmd *cobra.Command, text *string, score *int) {
	cmd.Flags().StringVarP(text, "text", "t", defaultReviewText, "Review text")
	cmd.Flags().IntVarP(score, "score", "s", 0, "Score from 0 to 100")
	_ = cmd.MarkFlagRequired("score")
}

func newReviewAddCommand(ctx *commandContext) *cobra.Command {
	var text string
	var score int

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a standalone review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				review, err := store.CreateReview(cmd.Context(), text, score)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, review)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created review %d (score %d)\n", review.ID(), review.Score())
				return nil
			})
		},
	}

	addReviewFlags(cmd, &text, &score)
	return cmd
}

func newReviewAttachCommand(ctx *commandContext) *cobra.Command {
	var text string
	var score int

	cmd := &cobra.Command{
		Use:   "attach <revision-id>",
		Short: "Review a revision that has no review yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revisionID, err := parseID(args[0], "revision")
			if err != nil {
				return err
			}
			return ctx.withLifecycle(func(mgr *lifecycle.Manager, _ *queue.Store) error {
				review, err := mgr.ReviewRevision(cmd.Context(), revisionID, lifecycle.ReviewInput{Text: text, Score: score})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, review)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Attached review %d to revision %d\n", review.ID(), revisionID)
				return nil
			})
		},
	}

	addReviewFlags(cmd, &text, &score)
	return cmd
}

func newReviewLinkCommand(ctx *commandContext) *cobra.Command {
	var (
		text       string
		score      int
		reviewType string
		version    int64
		reviewID   int64
	)

	cmd := &cobra.Command{
		Use:   "link <story-id>",
		Short: "Record a review of the whole story at a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			existing := cmd.Flags().Changed("review-id")
			if !existing && !cmd.Flags().Changed("score") {
				return fmt.Errorf("either --review-id or --score is required")
			}
			return ctx.withStore(func(store *queue.Store) error {
				var link *queue.StoryReviewLink
				err := store.WithTx(cmd.Context(), func(tx *queue.Tx) error {
					id := reviewID
					if !existing {
						review, err := tx.CreateReview(cmd.Context(), text, score)
						if err != nil {
							return err
						}
						id = review.ID()
					}
					var err error
					link, err = tx.LinkStoryReview(cmd.Context(), storyID, id, version, reviewType)
					return err
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, link)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked review %d to story #%d v%d as %s\n", link.ReviewID, storyID, link.Version, link.ReviewType)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", defaultReviewText, "Review text")
	cmd.Flags().IntVarP(&score, "score", "s", 0, "Score from 0 to 100")
	cmd.Flags().StringVar(&reviewType, "type", "", "Review type, e.g. coherence")
	cmd.Flags().Int64Var(&version, "version", 0, "Story version the review judged")
	cmd.Flags().Int64Var(&reviewID, "review-id", 0, "Link an existing review instead of creating one")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newReviewListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <story-id>",
		Short: "List story-wide reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				links, err := store.StoryReviews(cmd.Context(), storyID)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, links)
				}
				if len(links) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Story #%d has no story reviews\n", storyID)
					return nil
				}
				rows := make([][]string, 0, len(links))
				for _, link := range links {
					score := "-"
					review, err := store.GetReview(cmd.Context(), link.ReviewID)
					if err != nil {
						return err
					}
					if review != nil {
						score = strconv.Itoa(review.Score())
					}
					rows = append(rows, []string{
						strconv.FormatInt(link.ReviewID, 10),
						link.ReviewType,
						strconv.FormatInt(link.Version, 10),
						score,
						formatTime(link.CreatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "Review", right: true},
					{header: "Type"},
					{header: "Version", right: true},
					{header: "Score", right: true},
					{header: "Created"},
				}, rows))
				return nil
			})
		},
	}
}
