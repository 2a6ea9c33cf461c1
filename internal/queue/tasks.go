package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/utils"
)

// TaskResearchAdvance moves one research job forward by exactly one
// pipeline stage. The handler re-enqueues the next advance itself, so a
// job is a chain of single-stage tasks rather than one long-running task.
const TaskResearchAdvance = "research:advance"

type AdvancePayload struct {
	JobID string `json:"job_id"`
}

// NewAdvanceTask builds an advance task for a job. MaxRetry is zero on
// purpose: the stage claim makes a blind retry a duplicate advance, and
// failures are recorded on the job itself.
func NewAdvanceTask(jobID string, stageTimeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(AdvancePayload{JobID: jobID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskResearchAdvance,
		payload,
		asynq.MaxRetry(0),
		// Headroom over the stage timeout so the pipeline's own deadline
		// fires first and records the failure on the job.
		asynq.Timeout(stageTimeout+time.Minute),
		asynq.Queue("default"),
	), nil
}

// Client enqueues pipeline tasks.
type Client struct {
	client       *asynq.Client
	stageTimeout time.Duration
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		stageTimeout: cfg.StageTimeout,
	}
}

func (c *Client) EnqueueAdvance(ctx context.Context, jobID string) error {
	task, err := NewAdvanceTask(jobID, c.stageTimeout)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue advance for job %s: %w", jobID, err)
	}
	logger.Debug("Enqueued advance task", "job_id", jobID, "task_id", info.ID)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Advancer is the pipeline entrypoint the processor drives.
type Advancer interface {
	Advance(ctx context.Context, jobID string) error
}

// Processor handles queue tasks on the worker.
type Processor struct {
	pipeline Advancer
}

func NewProcessor(pipeline Advancer) *Processor {
	return &Processor{pipeline: pipeline}
}

func (p *Processor) HandleAdvance(ctx context.Context, t *asynq.Task) error {
	var payload AdvancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	err := p.pipeline.Advance(ctx, payload.JobID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, utils.ErrStageConflict):
		// Duplicate or out-of-order delivery; the stage is already taken
		// care of.
		logger.Warn("Dropping conflicting advance task", "job_id", payload.JobID)
		return nil
	case errors.Is(err, utils.ErrJobNotFound):
		logger.Warn("Advance task for unknown job", "job_id", payload.JobID)
		return nil
	default:
		// The pipeline already recorded the failure on the job; do not
		// retry a failed stage blindly.
		return fmt.Errorf("advance job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
}
