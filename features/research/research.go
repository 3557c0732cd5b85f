package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholar/internal/apperr"
	"scholar/internal/config"
	"scholar/internal/domain"
	"scholar/internal/ingest"
	"scholar/internal/middleware"
	"scholar/internal/worker"
	"scholar/internal/workflow"
)

// ErrNotCompleted is returned for the essay of a task that has not finished.
var ErrNotCompleted = errors.New("task has not completed")

type Repository interface {
	workflow.TaskStore
	List(ctx context.Context) ([]domain.ResearchTask, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Status is the progress view of a task.
type Status struct {
	ID          string            `json:"id"`
	Status      domain.TaskStatus `json:"status"`
	State       domain.State      `json:"state"`
	LastState   domain.State      `json:"last_state,omitempty"`
	Error       string            `json:"error,omitempty"`
	Transitions []domain.State    `json:"transitions"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Service struct {
	repo Repository
	pub  EventPublisher
	now  func() time.Time
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub, now: time.Now}
}

// Create validates and stores a new pending task.
func (s *Service) Create(ctx context.Context, topic, requirements string, opts domain.TaskOptions, pdfs []domain.PDFInput) (*domain.ResearchTask, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperr.Configf("topic is required")
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	for i := range pdfs {
		if err := validatePDF(&pdfs[i]); err != nil {
			return nil, err
		}
	}
	if pdfs == nil {
		pdfs = []domain.PDFInput{}
	}

	now := s.now().UTC()
	task := &domain.ResearchTask{
		ID:           uuid.New().String(),
		Topic:        topic,
		Requirements: strings.TrimSpace(requirements),
		Options:      opts,
		PDFs:         pdfs,
		Status:       domain.StatusPending,
		State:        domain.StateInit,
		Transitions:  []domain.State{},
		Candidates:   []domain.RankedCandidate{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "research task created", "task_id", task.ID, "topic", topic, "pdfs", len(pdfs))
	return task, nil
}

func validateOptions(o domain.TaskOptions) error {
	if t := o.RelevanceThreshold; t != nil && (*t < 0 || *t > 1) {
		return apperr.Configf("relevance_threshold must be within [0,1], got %.3f", *t)
	}
	if o.MaxRelevantSources < 0 {
		return apperr.Configf("max_relevant_sources must not be negative, got %d", o.MaxRelevantSources)
	}
	switch o.EssayLength {
	case "", domain.EssayShort, domain.EssayMedium, domain.EssayLong:
	default:
		return apperr.Configf("essay_length must be short, medium or long, got %q", o.EssayLength)
	}
	return nil
}

func validatePDF(in *domain.PDFInput) error {
	if strings.TrimSpace(in.Path) == "" {
		return apperr.Configf("pdf path is required")
	}
	switch in.Kind {
	case "":
		in.Kind = domain.KindPDF
	case domain.KindPeerReviewed, domain.KindPreprint, domain.KindPDF, domain.KindWeb:
	default:
		return apperr.Configf("unknown source kind %q", in.Kind)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.ResearchTask, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	transitions := t.Transitions
	if transitions == nil {
		transitions = []domain.State{}
	}
	return &Status{
		ID:          t.ID,
		Status:      t.Status,
		State:       t.State,
		LastState:   t.LastState,
		Error:       t.Error,
		Transitions: transitions,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

// Run queues a pending, failed or interrupted task for execution.
func (s *Service) Run(ctx context.Context, id string) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case t.Status == domain.StatusCompleted:
		return workflow.ErrTaskCompleted
	case s.busy(t):
		return workflow.ErrTaskRunning
	}

	body, err := json.Marshal(worker.RunMessage{
		TaskID:        id,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicResearchRun, body); err != nil {
		return fmt.Errorf("failed to queue task: %w", err)
	}
	slog.InfoContext(ctx, "published research.run event", "task_id", id)
	return nil
}

// Result returns the essay of a completed task.
func (s *Service) Result(ctx context.Context, id string) (*domain.Essay, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.StatusCompleted || t.Essay == nil {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, t.Status)
	}
	return t.Essay, nil
}

func (s *Service) List(ctx context.Context) ([]domain.ResearchTask, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.busy(t) {
		return workflow.ErrTaskRunning
	}
	return s.repo.Delete(ctx, id)
}

// AttachPDF adds a document to a task that has not run yet, or whose run failed.
func (s *Service) AttachPDF(ctx context.Context, id string, in domain.PDFInput) (*domain.ResearchTask, error) {
	if err := validatePDF(&in); err != nil {
		return nil, err
	}
	if !ingest.SupportedExt(in.Path) {
		return nil, apperr.Configf("unsupported file type %q", in.Path)
	}

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case t.Status == domain.StatusCompleted:
		return nil, workflow.ErrTaskCompleted
	case s.busy(t):
		return nil, workflow.ErrTaskRunning
	}

	t.PDFs = append(t.PDFs, in)
	t.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// busy reports whether t is running and still making progress.
func (s *Service) busy(t *domain.ResearchTask) bool {
	return t.Status == domain.StatusRunning && !workflow.Interrupted(t, s.now())
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
