package stage

import (
	"context"
	"fmt"
	"log/slog"

	"storyforge/internal/lifecycle"
	"storyforge/internal/queue"
	"storyforge/internal/stages"
)

// Handler does the work for one stage. Process must not touch the store; the
// manager persists the Result together with the transition.
type Handler interface {
	Process(ctx context.Context, job Job) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// LoggerAware handlers receive their stage logger once, when registered with
// the workflow manager. Process may run concurrently, so per-job fields belong
// in the context rather than in the handler.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Job is what a handler is given for one claimed Story. StoryVersion is the
// version Story-wide reviews from this job are recorded against: the number
// of title and script revisions the Story has, so any new content of either
// kind moves it forward.
type Job struct {
	Story        queue.Story       `json:"story"`
	Stage        stages.Stage      `json:"stage"`
	Metadata     JobMetadata       `json:"metadata"`
	Latest       []*queue.Revision `json:"latest,omitempty"`
	StoryVersion int64             `json:"story_version"`
	RequestID    string            `json:"request_id,omitempty"`
}

// JobMetadata is the declared behaviour of the job's stage.
type JobMetadata struct {
	Category    stages.Category `json:"category"`
	Produces    stages.Kind     `json:"produces"`
	OnPass      stages.Stage    `json:"on_pass"`
	OnFail      stages.Stage    `json:"on_fail"`
	Description string          `json:"description,omitempty"`
}

// NewJobMetadata copies md into its wire form.
func NewJobMetadata(md stages.Metadata) JobMetadata {
	return JobMetadata{
		Category:    md.Category,
		Produces:    md.Produces,
		OnPass:      md.OnPass,
		OnFail:      md.OnFail,
		Description: md.Description,
	}
}

// LatestOf returns the job's latest revision of kind, or nil.
func (j Job) LatestOf(kind stages.Kind) *queue.Revision {
	for _, rev := range j.Latest {
		if rev != nil && rev.Kind() == kind {
			return rev
		}
	}
	return nil
}

// StoryReview is a Story-wide review in a Result.
type StoryReview struct {
	Type     string `json:"type"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Result is a handler's verdict and output.
//
// With Text set, a new revision of Kind is written; Kind may be left empty
// when the stage produces a single kind. With Score set, a review carrying
// Feedback is attached to the new revision, or to the latest revision of
// Kind when no Text is given. A latest revision that already carries a review
// keeps it; the score is then recorded once as a Story review typed with the
// stage name, so consecutive gates can score the same content.
type Result struct {
	Outcome      stages.Outcome `json:"outcome"`
	Kind         stages.Kind    `json:"kind,omitempty"`
	Text         string         `json:"text,omitempty"`
	Score        *int           `json:"score,omitempty"`
	Feedback     string         `json:"feedback,omitempty"`
	StoryReviews []StoryReview  `json:"story_reviews,omitempty"`
}

// FinishRequest converts r into the lifecycle request that persists it for
// claim.
func (r Result) FinishRequest(job Job, claim *queue.Claim) (lifecycle.FinishRequest, error) {
	req := lifecycle.FinishRequest{Claim: claim, Outcome: r.Outcome}

	kind := r.Kind
	if kind == "" {
		kind = job.Metadata.Produces
	}
	var review *lifecycle.ReviewInput
	if r.Score != nil {
		review = &lifecycle.ReviewInput{Text: feedbackOrDefault(r.Feedback, job.Stage), Score: *r.Score}
	}

	switch {
	case r.Text != "":
		if !kind.IsContent() {
			return req, queue.Wrap(queue.ErrValidation, "stage result", fmt.Sprintf("stage %s produces %s; result must name title or script", job.Stage, job.Metadata.Produces), nil)
		}
		req.Revisions = append(req.Revisions, lifecycle.RevisionInput{Kind: kind, Text: r.Text, Review: review})
	case review != nil:
		reviewed := false
		for _, k := range kind.Kinds() {
			latest := job.LatestOf(k)
			if latest == nil {
				return req, queue.Wrap(queue.ErrValidation, "stage result", fmt.Sprintf("no %s revision to review", k), nil)
			}
			if _, ok := latest.ReviewID(); ok {
				reviewed = true
				continue
			}
			req.RevisionReviews = append(req.RevisionReviews, lifecycle.RevisionReviewInput{RevisionID: latest.ID(), Review: *review})
		}
		if reviewed {
			req.StoryReviews = append(req.StoryReviews, lifecycle.StoryReviewInput{
				ReviewType: string(job.Stage),
				Version:    job.StoryVersion,
				Review:     *review,
			})
		}
	}

	for _, sr := range r.StoryReviews {
		req.StoryReviews = append(req.StoryReviews, lifecycle.StoryReviewInput{
			ReviewType: sr.Type,
			Version:    job.StoryVersion,
			Review:     lifecycle.ReviewInput{Text: feedbackOrDefault(sr.Feedback, job.Stage), Score: sr.Score},
		})
	}
	return req, nil
}

func feedbackOrDefault(feedback string, stage stages.Stage) string {
	if feedback != "" {
		return feedback
	}
	return fmt.Sprintf("%s review", stage)
}
