package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scholar/internal/analyst"
	"scholar/internal/domain"
	"scholar/internal/essay"
	"scholar/internal/ingest"
	"scholar/internal/metrics"
	"scholar/internal/middleware"
	"scholar/internal/ranking"
	"scholar/internal/retrieval"
	"scholar/internal/settings"
	"scholar/internal/text"
)

var (
	ErrTaskCompleted = errors.New("task already completed")
	ErrTaskRunning   = errors.New("task is already running")
	// ErrNoRelevantSources fails a task whose candidates all scored below the threshold.
	ErrNoRelevantSources = errors.New("no source reached the relevance threshold")
)

// StaleAfter is how long a task stored as running may go without an update
// before it counts as interrupted. Every transition refreshes updated_at.
const StaleAfter = 30 * time.Minute

// Interrupted reports whether t is stored as running but its run stopped
// making progress, e.g. because the worker crashed.
func Interrupted(t *domain.ResearchTask, now time.Time) bool {
	return t.Status == domain.StatusRunning && now.Sub(t.UpdatedAt) > StaleAfter
}

// TaskStore persists tasks. Every transition is written through Update.
type TaskStore interface {
	Create(ctx context.Context, t *domain.ResearchTask) error
	Get(ctx context.Context, id string) (*domain.ResearchTask, error)
	Update(ctx context.Context, t *domain.ResearchTask) error
}

type Ingester interface {
	Ingest(ctx context.Context, inputs []domain.PDFInput) (ingest.Result, error)
}

type WebCollector interface {
	Collect(ctx context.Context, topic, requirements string, maxResults int) ([]domain.SourceDocument, error)
}

type Indexer interface {
	Index(ctx context.Context, chunks []domain.DocumentChunk) (int, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Hit, error)
}

type Writer interface {
	Write(ctx context.Context, req essay.Request) (*domain.Essay, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Defaults fill the task options a task leaves unset.
type Defaults struct {
	EnableWebSearch  bool
	MaxSearchResults int
	RetrievalTopK    int
	Ranking          ranking.Options
}

// Deps are the collaborators of the steps. Web, Analyst and Settings may be nil.
type Deps struct {
	Store    TaskStore
	Settings SettingsReader
	Ingester Ingester
	Web      WebCollector
	Chunker  *text.Chunker
	Indexer  Indexer
	Retrieve Retriever
	Analyst  *analyst.Analyst
	Writer   Writer
	Metrics  *metrics.Metrics
}

// run is the working state of one task execution. Only the step functions
// touch it, one at a time.
type run struct {
	task       *domain.ResearchTask
	defaults   Defaults
	chunks     []domain.DocumentChunk
	hits       []retrieval.Hit
	candidates []domain.RankedCandidate
}

// step executes the work of one state and names the next one.
type step func(ctx context.Context, r *run) (domain.State, error)

// Engine drives research tasks through their states.
type Engine struct {
	deps     Deps
	defaults Defaults
	steps    map[domain.State]step
	now      func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

func NewEngine(deps Deps, defaults Defaults) *Engine {
	e := &Engine{
		deps:     deps,
		defaults: defaults,
		now:      time.Now,
		active:   make(map[string]struct{}),
	}
	e.steps = map[domain.State]step{
		domain.StateInit:          e.init,
		domain.StateIngestingPDFs: e.ingestPDFs,
		domain.StateSearchingWeb:  e.searchWeb,
		domain.StateIndexing:      e.index,
		domain.StateRetrieving:    e.retrieve,
		domain.StateRanking:       e.rank,
		domain.StateWriting:       e.write,
	}
	return e
}

// Run executes task id from INIT to DONE or FAILED. A failed or interrupted
// task is reset and run again. The returned error covers the run itself; a
// step failure is recorded on the task and is not returned.
func (e *Engine) Run(ctx context.Context, id string) error {
	ctx = middleware.WithTaskID(ctx, id)

	if !e.claim(id) {
		return ErrTaskRunning
	}
	defer e.release(id)

	task, err := e.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch task.Status {
	case domain.StatusCompleted:
		return ErrTaskCompleted
	case domain.StatusRunning:
		if !Interrupted(task, e.now()) {
			return ErrTaskRunning
		}
		slog.WarnContext(ctx, "resuming interrupted task", "state", task.State, "updated_at", task.UpdatedAt)
		task.Reset()
	case domain.StatusFailed:
		slog.InfoContext(ctx, "retrying failed task", "last_state", task.LastState, "error", task.Error)
		task.Reset()
	}

	task.Status = domain.StatusRunning
	task.State = domain.StateInit
	task.Transitions = []domain.State{domain.StateInit}
	if err := e.save(ctx, task); err != nil {
		return err
	}
	e.deps.Metrics.Transition(string(domain.StateInit))

	r := &run{task: task, defaults: e.resolveDefaults(ctx)}
	for !task.State.Terminal() {
		current := task.State
		fn, ok := e.steps[current]
		if !ok {
			return fmt.Errorf("no step for state %s", current)
		}

		start := time.Now()
		next, stepErr := fn(ctx, r)
		e.deps.Metrics.ObserveStep(string(current), stepErr, time.Since(start))

		if stepErr != nil {
			e.fail(ctx, task, current, stepErr)
		} else {
			e.advance(ctx, task, next)
		}
		if err := e.save(ctx, task); err != nil {
			e.abort(ctx, task, err)
			return err
		}
	}
	return nil
}

// abort records a run whose progress could not be persisted as FAILED, so
// the stored task does not stay running. The save is best effort.
func (e *Engine) abort(ctx context.Context, task *domain.ResearchTask, persistErr error) {
	if task.Status != domain.StatusFailed {
		e.fail(ctx, task, task.State, persistErr)
	}
	if err := e.save(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to record aborted run", "error", err)
	}
}

// resolveDefaults overlays the runtime settings on the configured defaults.
func (e *Engine) resolveDefaults(ctx context.Context) Defaults {
	d := e.defaults
	if e.deps.Settings == nil {
		return d
	}
	set, err := e.deps.Settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read settings, using configured defaults", "error", err)
		return d
	}
	if err := set.Validate(); err != nil {
		slog.WarnContext(ctx, "ignoring invalid settings", "error", err)
		return d
	}
	d.EnableWebSearch = set.EnableWebSearch
	d.Ranking.Threshold = set.RelevanceThreshold
	d.Ranking.MaxSources = set.MaxRelevantSources
	d.Ranking.Weights = ranking.Weights{
		Similarity: set.WeightSimilarity,
		SourceType: set.WeightSourceType,
		Recency:    set.WeightRecency,
	}
	return d
}

func (e *Engine) advance(ctx context.Context, task *domain.ResearchTask, next domain.State) {
	task.State = next
	task.Transitions = append(task.Transitions, next)
	if next == domain.StateDone {
		task.Status = domain.StatusCompleted
	}
	e.deps.Metrics.Transition(string(next))
	slog.InfoContext(ctx, "task transition", "state", next)
}

func (e *Engine) fail(ctx context.Context, task *domain.ResearchTask, current domain.State, err error) {
	// The failing state never completed, so the last good one precedes it.
	if n := len(task.Transitions); n >= 2 {
		task.LastState = task.Transitions[n-2]
	} else {
		task.LastState = domain.StateInit
	}
	task.Error = fmt.Sprintf("%s: %v", stepName(current), err)
	task.State = domain.StateFailed
	task.Status = domain.StatusFailed
	task.Transitions = append(task.Transitions, domain.StateFailed)
	task.Essay = nil
	e.deps.Metrics.Transition(string(domain.StateFailed))
	slog.ErrorContext(ctx, "task failed", "state", current, "last_state", task.LastState, "error", err)
}

func (e *Engine) save(ctx context.Context, task *domain.ResearchTask) error {
	task.UpdatedAt = e.now().UTC()
	// A cancelled caller must not leave the task looking half done.
	if err := e.deps.Store.Update(context.WithoutCancel(ctx), task); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}
	return nil
}

func (e *Engine) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[id]; busy {
		return false
	}
	e.active[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// stepName turns INGESTING_PDFS into "ingesting pdfs".
func stepName(s domain.State) string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}
