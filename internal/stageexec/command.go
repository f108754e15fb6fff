package stageexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/deps"
	"storyforge/internal/logging"
	"storyforge/internal/queue"
	"storyforge/internal/stage"
	"storyforge/internal/stages"
)

// commandContext is swapped out in tests.
var commandContext = exec.CommandContext

const stderrTail = 2048

// Command runs an external program for one stage.
type Command struct {
	stage   stages.Stage
	binary  string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand builds a handler for stage from its configuration.
func NewCommand(name stages.Stage, cfg config.StageCommand) *Command {
	return &Command{
		stage:   name,
		binary:  strings.TrimSpace(cfg.Command),
		args:    append([]string(nil), cfg.Args...),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logging.NewNop(),
	}
}

// SetLogger implements stage.LoggerAware. Per-job fields are taken from the
// context passed to Process.
func (c *Command) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c.logger = logger
}

// Process execs the configured program with job on stdin.
func (c *Command) Process(ctx context.Context, job stage.Job) (stage.Result, error) {
	if c.binary == "" {
		return stage.Result{}, queue.Wrap(queue.ErrValidation, "stage command", fmt.Sprintf("no command configured for %s", c.stage), nil)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return stage.Result{}, fmt.Errorf("encode job: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := commandContext(runCtx, c.binary, c.args...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env,
		"STORYFORGE_STAGE="+string(c.stage),
		"STORYFORGE_STORY_ID="+strconv.FormatInt(job.Story.ID, 10),
		"STORYFORGE_REQUEST_ID="+job.RequestID,
	)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("stage command started",
		logging.String("command", c.binary),
		logging.Int("payload_bytes", len(payload)),
	)
	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)
	if detail := tail(stderr.String()); detail != "" {
		logger.Debug("stage command stderr", logging.String("stderr", detail))
	}
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return stage.Result{}, fmt.Errorf("stage %s: %s timed out after %s", c.stage, c.binary, c.timeout)
		}
		if detail := tail(stderr.String()); detail != "" {
			return stage.Result{}, fmt.Errorf("stage %s: %s: %w: %s", c.stage, c.binary, runErr, detail)
		}
		return stage.Result{}, fmt.Errorf("stage %s: %s: %w", c.stage, c.binary, runErr)
	}

	result, err := DecodeResult(stdout.Bytes())
	if err != nil {
		return stage.Result{}, fmt.Errorf("stage %s: %w", c.stage, err)
	}
	logger.Debug("stage command finished",
		logging.String("outcome", string(result.Outcome)),
		logging.Duration("elapsed", elapsed),
	)
	return result, nil
}

// HealthCheck reports whether the configured program can be found.
func (c *Command) HealthCheck(context.Context) stage.Health {
	status := deps.CheckBinary(deps.Requirement{Name: string(c.stage), Command: c.binary})
	if !status.Available {
		return stage.Unhealthy(c.stage, status.Detail)
	}
	return stage.Healthy(c.stage, status.Path)
}

// DecodeResult parses and validates a stage program's stdout.
func DecodeResult(data []byte) (stage.Result, error) {
	const operation = "decode stage result"
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return stage.Result{}, queue.Wrap(queue.ErrValidation, operation, "command printed no result", nil)
	}
	var result stage.Result
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&result); err != nil {
		return stage.Result{}, queue.Wrap(queue.ErrValidation, operation, "result is not valid JSON", err)
	}

	outcome, err := stages.ParseOutcome(string(result.Outcome))
	if err != nil {
		return stage.Result{}, queue.Wrap(queue.ErrValidation, operation, "", err)
	}
	result.Outcome = outcome
	if result.Kind != "" {
		kind, err := stages.ParseKind(string(result.Kind))
		if err != nil {
			return stage.Result{}, queue.Wrap(queue.ErrValidation, operation, "", err)
		}
		result.Kind = kind
	}
	if result.Score != nil {
		if err := queue.ValidateScore(*result.Score); err != nil {
			return stage.Result{}, err
		}
	}
	for i, review := range result.StoryReviews {
		if strings.TrimSpace(review.Type) == "" {
			return stage.Result{}, queue.Wrap(queue.ErrValidation, operation, fmt.Sprintf("story review %d has no type", i), nil)
		}
		if err := queue.ValidateScore(review.Score); err != nil {
			return stage.Result{}, err
		}
	}
	return result, nil
}

func tail(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > stderrTail {
		text = "..." + text[len(text)-stderrTail:]
	}
	return text
}
