package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyforge/internal/config"
	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

func newRevisionCommand(ctx *commandContext) *cobra.Command {
	revisionCmd := &cobra.Command{
		Use:   "revision",
		Short: "Record and inspect title and script revisions",
	}

	revisionCmd.AddCommand(newRevisionAddCommand(ctx))
	revisionCmd.AddCommand(newRevisionListCommand(ctx))
	revisionCmd.AddCommand(newRevisionShowCommand(ctx))

	return revisionCmd
}

func newRevisionAddCommand(ctx *commandContext) *cobra.Command {
	var (
		kindFlag   string
		textFlag   string
		fileFlag   string
		version    int64
		score      int
		reviewText string
	)

	cmd := &cobra.Command{
		Use:   "add <story-id>",
		Short: "Append a revision, optionally with a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			kind, err := stages.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			body, err := readBody(cmd.InOrStdin(), textFlag, fileFlag)
			if err != nil {
				return err
			}
			withReview := cmd.Flags().Changed("score")
			pinned := cmd.Flags().Changed("version")

			return ctx.withStore(func(store *queue.Store) error {
				var rev *queue.Revision
				err := store.WithTx(cmd.Context(), func(tx *queue.Tx) error {
					var reviewID *int64
					if withReview {
						review, err := tx.CreateReview(cmd.Context(), reviewText, score)
						if err != nil {
							return err
						}
						id := review.ID()
						reviewID = &id
					}
					var err error
					if pinned {
						rev, err = tx.InsertRevisionAt(cmd.Context(), storyID, kind, version, body, reviewID)
					} else {
						rev, err = tx.InsertRevision(cmd.Context(), storyID, kind, body, reviewID)
					}
					return err
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, rev)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s v%d for story #%d (revision %d)\n", rev.Kind(), rev.Version(), storyID, rev.ID())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(stages.KindScript), "Content kind (title or script)")
	cmd.Flags().StringVarP(&textFlag, "text", "t", "", "Revision text")
	cmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Read revision text from a file (- for stdin)")
	cmd.Flags().Int64Var(&version, "version", 0, "Require this to be the next version")
	cmd.Flags().IntVar(&score, "score", 0, "Attach a review with this score (0-100)")
	cmd.Flags().StringVar(&reviewText, "review", defaultReviewText, "Text of the attached review")
	return cmd
}

func newRevisionListCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "list <story-id>",
		Short: "List the revisions of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := parseID(args[0], "story")
			if err != nil {
				return err
			}
			kinds := stages.ContentKinds
			if strings.TrimSpace(kindFlag) != "" {
				kind, err := stages.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kinds = kind.Kinds()
			}
			return ctx.withStore(func(store *queue.Store) error {
				var revisions []*queue.Revision
				for _, kind := range kinds {
					revs, err := store.Revisions(cmd.Context(), storyID, kind)
					if err != nil {
						return err
					}
					revisions = append(revisions, revs...)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, revisions)
				}
				if len(revisions) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Story #%d has no revisions\n", storyID)
					return nil
				}
				rows := make([][]string, 0, len(revisions))
				for _, rev := range revisions {
					review := "-"
					if id, ok := rev.ReviewID(); ok {
						review = strconv.FormatInt(id, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(rev.ID(), 10),
						label(string(rev.Kind())),
						strconv.FormatInt(rev.Version(), 10),
						review,
						formatTime(rev.CreatedAt()),
						firstLine(rev.Text()),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
					{header: "ID", right: true},
					{header: "Kind"},
					{header: "Version", right: true},
					{header: "Review", right: true},
					{header: "Created"},
					{header: "Text", maxWidth: 48},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Only this kind (title, script or both)")
	return cmd
}

func newRevisionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <revision-id>",
		Short: "Print a revision and its review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "revision")
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				rev, err := store.RevisionByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if rev == nil {
					return queue.Wrap(queue.ErrNotFound, "show revision", fmt.Sprintf("revision %d", id), nil)
				}
				var review *queue.Review
				if reviewID, ok := rev.ReviewID(); ok {
					if review, err = store.GetReview(cmd.Context(), reviewID); err != nil {
						return err
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, struct {
						Revision *queue.Revision `json:"revision"`
						Review   *queue.Review   `json:"review,omitempty"`
					}{rev, review})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Revision %d: story #%d %s v%d (%s)\n", rev.ID(), rev.StoryID(), rev.Kind(), rev.Version(), formatTime(rev.CreatedAt()))
				if review != nil {
					fmt.Fprintf(out, "Review %d: score %d\n", review.ID(), review.Score())
					if text := strings.TrimSpace(review.Text()); text != "" {
						fmt.Fprintln(out, text)
					}
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, rev.Text())
				return nil
			})
		},
	}
}

// readBody returns inline text, or the contents of path ("-" reads stdin).
func readBody(stdin io.Reader, text, path string) (string, error) {
	text = strings.TrimSpace(text)
	path = strings.TrimSpace(path)
	switch {
	case text != "" && path != "":
		return "", errors.New("specify only one of --text or --file")
	case text != "":
		return text, nil
	case path == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case path != "":
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", expanded, err)
		}
		return string(data), nil
	default:
		return "", errors.New("revision text is required (--text or --file)")
	}
}
