package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scholar/internal/config"
)

const defaultPublishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: defaultPublishTimeout}
}

// WithPublishTimeout bounds how long Retry waits on the broker.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.publishTimeout = d
	return s
}

// List returns every failed run, or only those of taskID when it is set.
func (s *Service) List(ctx context.Context, taskID string) ([]Job, error) {
	if taskID != "" {
		return s.repo.ListByTask(ctx, taskID)
	}
	return s.repo.List(ctx)
}

// Retry queues the failed run again and forgets the job once the broker
// accepted it. The job is returned whenever it was found, even on error.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicResearchRun, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return job, err
		}
	case <-time.After(s.publishTimeout):
		return job, ErrPublishTimeout
	case <-ctx.Done():
		return job, ctx.Err()
	}

	s.logger.InfoContext(ctx, "retried failed job", "job_id", id, "task_id", job.TaskID)
	return job, s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
