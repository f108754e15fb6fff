package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storyforge/internal/lifecycle"
	"storyforge/internal/logging"
	"storyforge/internal/metrics"
	"storyforge/internal/notifications"
	"storyforge/internal/queue"
	"storyforge/internal/stage"
	"storyforge/internal/stages"
)

const releaseTimeout = 5 * time.Second

// Status labels recorded for a run that did not reach a verdict.
const StatusError = "error"

// JobReader loads the inputs of a job.
type JobReader interface {
	GetStory(ctx context.Context, id int64) (*queue.Story, error)
	LatestRevision(ctx context.Context, storyID int64, kind stages.Kind) (*queue.Revision, error)
}

// Options controls the execution of one claimed job.
//
// With RetryAfter set, a failed job keeps its claim with the lease cut down
// to RetryAfter, so the Story only becomes selectable again once that lease
// expires. StopRenewal, when given, is called before the claim is given back
// or cut down so that no heartbeat extends it afterwards.
type Options struct {
	Logger      *slog.Logger
	Reader      JobReader
	Lifecycle   *lifecycle.Manager
	Notifier    notifications.Service
	Metrics     *metrics.Metrics
	Handler     stage.Handler
	Claim       *queue.Claim
	RequestID   string
	RetryAfter  time.Duration
	StopRenewal func()
}

// LoadJob assembles the handler input for claim.
func LoadJob(ctx context.Context, reader JobReader, registry *stages.Registry, claim *queue.Claim, requestID string) (stage.Job, error) {
	const operation = "load job"
	md, err := registry.MetadataFor(claim.Stage)
	if err != nil {
		return stage.Job{}, err
	}
	story, err := reader.GetStory(ctx, claim.StoryID)
	if err != nil {
		return stage.Job{}, err
	}
	if story == nil {
		return stage.Job{}, queue.Wrap(queue.ErrNotFound, operation, fmt.Sprintf("story %d", claim.StoryID), nil)
	}

	job := stage.Job{
		Story:     *story,
		Stage:     md.Stage,
		Metadata:  stage.NewJobMetadata(md),
		RequestID: requestID,
	}
	for _, kind := range stages.ContentKinds {
		rev, err := reader.LatestRevision(ctx, story.ID, kind)
		if err != nil {
			return stage.Job{}, err
		}
		if rev == nil {
			continue
		}
		job.Latest = append(job.Latest, rev)
		// Versions are contiguous from 0, so this sums the revision counts.
		job.StoryVersion += rev.Version() + 1
	}
	return job, nil
}

// Run executes the handler for a claimed Story and persists its result. When
// the handler or the write fails, the claim is released (or held for
// RetryAfter) and the error is returned.
func Run(ctx context.Context, opts Options) (*lifecycle.FinishResult, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("stage handler unavailable")
	}
	if opts.Lifecycle == nil || opts.Reader == nil {
		return nil, fmt.Errorf("lifecycle manager and job reader are required")
	}
	if opts.Claim == nil {
		return nil, fmt.Errorf("claim is required")
	}
	claim := opts.Claim
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}

	stageCtx := logging.WithStoryID(ctx, claim.StoryID)
	stageCtx = logging.WithWorker(stageCtx, claim.WorkerID)
	stageCtx = logging.WithRequestID(stageCtx, opts.RequestID)
	stageLogger := logging.WithContext(stageCtx, logging.ForStage(opts.Logger, string(claim.Stage)))

	job, err := LoadJob(stageCtx, opts.Reader, opts.Lifecycle.Registry(), claim, opts.RequestID)
	if err != nil {
		return nil, handleFailure(stageCtx, stageLogger, opts, 0, err)
	}

	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("produces", string(job.Metadata.Produces)),
		logging.Int("latest_revisions", len(job.Latest)),
	)

	started := time.Now()
	result, err := opts.Handler.Process(stageCtx, job)
	elapsed := time.Since(started)
	if err != nil {
		return nil, handleFailure(stageCtx, stageLogger, opts, elapsed, err)
	}
	req, err := result.FinishRequest(job, claim)
	if err != nil {
		return nil, handleFailure(stageCtx, stageLogger, opts, elapsed, err)
	}
	finished, err := opts.Lifecycle.Finish(stageCtx, req)
	if err != nil {
		return nil, handleFailure(stageCtx, stageLogger, opts, elapsed, err)
	}

	opts.Metrics.ObserveStageRun(claim.Stage, string(result.Outcome), elapsed)
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("outcome", string(result.Outcome)),
		logging.String("next_stage", string(finished.Story.Stage)),
		logging.Int("revisions_written", len(finished.Revisions)),
		logging.Duration("elapsed", elapsed),
	)

	if opts.Lifecycle.Registry().IsTerminal(finished.Story.Stage) {
		publishStory(stageCtx, stageLogger, opts.Reader, notifier, finished.Story)
	}
	return finished, nil
}

func handleFailure(ctx context.Context, logger *slog.Logger, opts Options, elapsed time.Duration, stageErr error) error {
	opts.Metrics.ObserveStageRun(opts.Claim.Stage, StatusError, elapsed)
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", queue.Kind(stageErr)),
		logging.Error(stageErr),
	)

	if opts.StopRenewal != nil {
		opts.StopRenewal()
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	var err error
	if opts.RetryAfter > 0 && ctx.Err() == nil {
		err = opts.Lifecycle.Hold(releaseCtx, opts.Claim, opts.RetryAfter)
	} else {
		err = opts.Lifecycle.Release(releaseCtx, opts.Claim)
	}
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			logger.Warn("claim already lost; expired lease will be reclaimed", logging.Error(err))
		} else {
			logger.Error("failed to give back claim", logging.Error(err))
		}
	}

	if opts.Notifier != nil && !errors.Is(stageErr, context.Canceled) {
		if err := opts.Notifier.Publish(releaseCtx, notifications.EventStageFailed, notifications.Payload{
			"story_id": opts.Claim.StoryID,
			"stage":    string(opts.Claim.Stage),
			"error":    stageErr,
		}); err != nil {
			logger.Debug("stage failure notification failed", logging.Error(err))
		}
	}
	return stageErr
}

func publishStory(ctx context.Context, logger *slog.Logger, reader JobReader, notifier notifications.Service, story *queue.Story) {
	payload := notifications.Payload{"story_id": story.ID, "stage": string(story.Stage)}
	if title, err := reader.LatestRevision(ctx, story.ID, stages.KindTitle); err == nil && title != nil {
		payload["title"] = title.Text()
	}
	if err := notifier.Publish(ctx, notifications.EventStoryPublished, payload); err != nil {
		logger.Debug("publish notification failed", logging.Error(err))
	}
}
