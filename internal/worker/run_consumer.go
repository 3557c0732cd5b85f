package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"scholar/features/job"
	"scholar/internal/domain"
	"scholar/internal/middleware"
	"scholar/internal/workflow"
)

const runHandlerName = "run_consumer"

// Runner executes one research task to completion or failure.
type Runner interface {
	Run(ctx context.Context, id string) error
}

type TaskReader interface {
	Get(ctx context.Context, id string) (*domain.ResearchTask, error)
}

// RunConsumer executes the tasks queued on research.run.
type RunConsumer struct {
	runner  Runner
	tasks   TaskReader
	jobRepo job.Repository
}

func NewRunConsumer(r Runner, t TaskReader, j job.Repository) *RunConsumer {
	return &RunConsumer{runner: r, tasks: t, jobRepo: j}
}

func (c *RunConsumer) HandleMessage(m *nsq.Message) error {
	return c.Process(context.Background(), m.Body)
}

// Process runs the task named by body. A failed run is recorded as a failed
// job and acknowledged; only a run that could not persist its own state is
// returned for redelivery.
func (c *RunConsumer) Process(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return nil
	}

	var msg RunMessage
	err := json.Unmarshal(body, &msg)

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx = middleware.WithCorrelationID(ctx, correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil
	}
	if msg.TaskID == "" {
		slog.ErrorContext(ctx, "missing task_id, dropping")
		return nil
	}
	ctx = middleware.WithTaskID(ctx, msg.TaskID)

	slog.InfoContext(ctx, "received research.run")

	err = c.runner.Run(ctx, msg.TaskID)
	switch {
	case errors.Is(err, workflow.ErrTaskCompleted), errors.Is(err, workflow.ErrTaskRunning):
		slog.WarnContext(ctx, "skipping task", "reason", err)
		return nil
	case errors.Is(err, sql.ErrNoRows):
		slog.WarnContext(ctx, "task not found, dropping")
		return nil
	case err != nil:
		slog.ErrorContext(ctx, "research run aborted, requeueing", "error", err)
		return err
	}

	task, err := c.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		slog.WarnContext(ctx, "failed to reload task after run", "error", err)
		return nil
	}
	if task.Status == domain.StatusFailed {
		c.recordFailure(ctx, msg.TaskID, body, task.Error)
	}
	return nil
}

func (c *RunConsumer) recordFailure(ctx context.Context, taskID string, payload []byte, reason string) {
	if c.jobRepo == nil {
		return
	}
	failed := &job.Job{
		TaskID:  taskID,
		Handler: runHandlerName,
		Payload: json.RawMessage(payload),
		Error:   reason,
	}
	if err := c.jobRepo.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
}
