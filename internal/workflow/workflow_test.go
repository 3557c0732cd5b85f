package workflow_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/essay"
	"scholar/internal/index"
	"scholar/internal/indexer"
	"scholar/internal/ingest"
	"scholar/internal/llm"
	"scholar/internal/metrics"
	"scholar/internal/ranking"
	"scholar/internal/retrieval"
	"scholar/internal/retry"
	"scholar/internal/settings"
	"scholar/internal/text"
	"scholar/internal/websearch"
	"scholar/internal/workflow"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]domain.ResearchTask
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]domain.ResearchTask{}}
}

func (s *memStore) Create(ctx context.Context, t *domain.ResearchTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*domain.ResearchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (s *memStore) Update(ctx context.Context, t *domain.ResearchTask) error {
	return s.Create(ctx, t)
}

// switchableEmbedder maps every text onto the same direction, so every
// chunk matches any query with similarity 1.
type switchableEmbedder struct {
	down atomic.Bool
}

func (e *switchableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.down.Load() {
		return nil, errors.New("connection refused")
	}
	return []float32{1, 0, 0}, nil
}

type completerFunc func(ctx context.Context, prompt string, p llm.Params) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	return f(ctx, prompt, p)
}

func essayCompleter(ctx context.Context, prompt string, p llm.Params) (string, error) {
	if p.JSON {
		return `{"title":"Solar Energy Today","introduction":"i","main_points":["cells"],"conclusion":"c","sources":["Peer Reviewed Study"]}`, nil
	}
	return "Solar energy converts sunlight into electricity.", nil
}

type stubWeb struct {
	docs []domain.SourceDocument
	err  error
}

func (s stubWeb) Collect(ctx context.Context, topic, requirements string, maxResults int) ([]domain.SourceDocument, error) {
	return s.docs, s.err
}

type fixture struct {
	store     *memStore
	settings  workflow.SettingsReader
	embedder  *switchableEmbedder
	completer llm.Completer
	web       workflow.WebCollector
	reg       *prometheus.Registry
	webOn     bool
}

var fast = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}

func newFixture() *fixture {
	return &fixture{
		store:     newMemStore(),
		embedder:  &switchableEmbedder{},
		completer: completerFunc(essayCompleter),
		reg:       prometheus.NewRegistry(),
	}
}

func (f *fixture) engine(t *testing.T) *workflow.Engine {
	t.Helper()
	return f.engineWithStore(t, f.store)
}

func (f *fixture) engineWithStore(t *testing.T, store workflow.TaskStore) *workflow.Engine {
	t.Helper()
	chunker, err := text.NewChunker(20, 5)
	require.NoError(t, err)

	embedder := llm.NewGuardedEmbedder(f.embedder, time.Second, fast)
	completer := llm.NewGuardedCompleter(f.completer, time.Second, fast)
	idx := index.NewLinear()
	m := metrics.New(f.reg)

	return workflow.NewEngine(workflow.Deps{
		Store:    store,
		Settings: f.settings,
		Ingester: ingest.New(ingest.FileExtractor{}, chunker, 2),
		Web:      f.web,
		Chunker:  chunker,
		Indexer:  indexer.New(embedder, idx, 4, m),
		Retrieve: retrieval.NewService(embedder, idx, nil),
		Writer:   essay.NewWriter(completer, 0.7),
		Metrics:  m,
	}, workflow.Defaults{
		EnableWebSearch:  f.webOn,
		MaxSearchResults: 10,
		RetrievalTopK:    50,
		Ranking: ranking.Options{
			Weights:    ranking.DefaultWeights(),
			Threshold:  ranking.DefaultThreshold,
			MaxSources: ranking.DefaultMaxSources,
		},
	})
}

func solarTask(t *testing.T, store *memStore, opts domain.TaskOptions) *domain.ResearchTask {
	t.Helper()
	dir := t.TempDir()
	peer := filepath.Join(dir, "peer.txt")
	pre := filepath.Join(dir, "preprint.txt")
	require.NoError(t, os.WriteFile(peer, []byte(strings.Repeat("photovoltaic cells convert sunlight into electricity ", 10)), 0o644))
	require.NoError(t, os.WriteFile(pre, []byte(strings.Repeat("perovskite tandem cells show early promise ", 10)), 0o644))

	task := &domain.ResearchTask{
		ID:           "task-1",
		Topic:        "Solar Energy",
		Requirements: "short overview",
		Options:      opts,
		PDFs: []domain.PDFInput{
			{Path: peer, Kind: domain.KindPeerReviewed, Title: "Peer Reviewed Study"},
			{Path: pre, Kind: domain.KindPreprint, Title: "Preprint Study"},
		},
		Status: domain.StatusPending,
		State:  domain.StateInit,
	}
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func noWeb() *bool {
	off := false
	return &off
}

func threshold(v float64) *float64 { return &v }

func TestRun_SolarEnergy(t *testing.T) {
	f := newFixture()
	f.web = stubWeb{err: errors.New("web must not be queried")}
	solarTask(t, f.store, domain.TaskOptions{
		EnableWebSearch:    noWeb(),
		RelevanceThreshold: threshold(0.6),
		MaxRelevantSources: 1,
	})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, err := f.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, domain.StateDone, task.State)
	assert.Equal(t, []domain.State{
		domain.StateInit,
		domain.StateIngestingPDFs,
		domain.StateIndexing,
		domain.StateRetrieving,
		domain.StateRanking,
		domain.StateWriting,
		domain.StateDone,
	}, task.Transitions)

	require.Len(t, task.Candidates, 1)
	c := task.Candidates[0]
	assert.Equal(t, domain.KindPeerReviewed, c.Kind)
	assert.Equal(t, "Peer Reviewed Study", c.Title)
	assert.True(t, c.Accepted)
	assert.GreaterOrEqual(t, c.CompositeScore, 0.6)

	require.NotNil(t, task.Essay)
	assert.Equal(t, "Solar Energy Today", task.Essay.Title)
	require.Len(t, task.Essay.Sources, 1)
	assert.Equal(t, c.SourceID, task.Essay.Sources[0].SourceID)
	assert.Empty(t, task.Error)

	n, err := testutil.GatherAndCount(f.reg, "scholar_task_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestRun_EmbeddingOutage(t *testing.T) {
	f := newFixture()
	f.embedder.down.Store(true)
	solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, err := f.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, domain.StateFailed, task.State)
	assert.Equal(t, domain.StateIngestingPDFs, task.LastState)
	assert.Equal(t, "indexing: embedding service: connection refused", task.Error)
	assert.Contains(t, task.Error, "embedding")
	assert.Nil(t, task.Essay)
	assert.Equal(t, []domain.State{
		domain.StateInit,
		domain.StateIngestingPDFs,
		domain.StateIndexing,
		domain.StateFailed,
	}, task.Transitions)
}

func TestRun_RetryAfterFailure(t *testing.T) {
	f := newFixture()
	f.embedder.down.Store(true)
	solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})
	engine := f.engine(t)

	require.NoError(t, engine.Run(context.Background(), "task-1"))
	failed, _ := f.store.Get(context.Background(), "task-1")
	require.Equal(t, domain.StatusFailed, failed.Status)

	f.embedder.down.Store(false)
	require.NoError(t, engine.Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Empty(t, task.Error)
	assert.Empty(t, task.LastState)
	assert.Equal(t, domain.StateInit, task.Transitions[0])
	assert.NotContains(t, task.Transitions, domain.StateFailed)
	assert.NotNil(t, task.Essay)
}

func TestRun_RejectsCompletedAndRunning(t *testing.T) {
	f := newFixture()
	engine := f.engine(t)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, &domain.ResearchTask{ID: "done", Status: domain.StatusCompleted, State: domain.StateDone}))
	require.NoError(t, f.store.Create(ctx, &domain.ResearchTask{ID: "busy", Status: domain.StatusRunning, State: domain.StateIndexing, UpdatedAt: time.Now()}))

	assert.ErrorIs(t, engine.Run(ctx, "done"), workflow.ErrTaskCompleted)
	assert.ErrorIs(t, engine.Run(ctx, "busy"), workflow.ErrTaskRunning)
	assert.ErrorIs(t, engine.Run(ctx, "missing"), sql.ErrNoRows)
}

// flakyStore fails the Update calls whose 1-based number is in failOn.
type flakyStore struct {
	*memStore
	mu      sync.Mutex
	updates int
	failOn  map[int]bool
}

func (s *flakyStore) Update(ctx context.Context, t *domain.ResearchTask) error {
	s.mu.Lock()
	s.updates++
	fail := s.failOn[s.updates]
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.memStore.Update(ctx, t)
}

func TestRun_PersistFailureLeavesTaskRetryable(t *testing.T) {
	f := newFixture()
	solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})
	store := &flakyStore{memStore: f.store, failOn: map[int]bool{2: true}}

	engine := f.engineWithStore(t, store)

	err := engine.Run(context.Background(), "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist task")

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "connection reset")

	require.NoError(t, engine.Run(context.Background(), "task-1"))
	task, _ = f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.NotNil(t, task.Essay)
}

func TestRun_ResumesInterruptedTask(t *testing.T) {
	f := newFixture()
	task := solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})
	task.Status = domain.StatusRunning
	task.State = domain.StateIndexing
	task.Transitions = []domain.State{domain.StateInit, domain.StateIngestingPDFs, domain.StateIndexing}
	task.UpdatedAt = time.Now().Add(-2 * workflow.StaleAfter)
	require.NoError(t, f.store.Update(context.Background(), task))

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	got, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.StateInit, got.Transitions[0])
	assert.Equal(t, domain.StateDone, got.Transitions[len(got.Transitions)-1])
}

func TestRun_WebSearchOutageIsNotFatal(t *testing.T) {
	f := newFixture()
	f.webOn = true
	f.web = stubWeb{err: apperr.External("web search", websearch.ErrAllQueriesFailed)}
	solarTask(t, f.store, domain.TaskOptions{})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, []domain.State{
		domain.StateInit,
		domain.StateIngestingPDFs,
		domain.StateSearchingWeb,
		domain.StateIndexing,
		domain.StateRetrieving,
		domain.StateRanking,
		domain.StateWriting,
		domain.StateDone,
	}, task.Transitions)
}

func TestRun_WebSourcesAreIndexed(t *testing.T) {
	f := newFixture()
	f.webOn = true
	f.web = stubWeb{docs: []domain.SourceDocument{{
		SourceMeta: domain.SourceMeta{
			ID:          "web-1",
			Origin:      domain.OriginWeb,
			Kind:        domain.KindWeb,
			URI:         "https://example.org/solar",
			Title:       "Solar Blog",
			RetrievedAt: time.Now(),
		},
		RawText: strings.Repeat("rooftop solar adoption grows every year ", 10),
	}}}
	require.NoError(t, f.store.Create(context.Background(), &domain.ResearchTask{
		ID:     "web-only",
		Topic:  "Solar Energy",
		Status: domain.StatusPending,
	}))

	require.NoError(t, f.engine(t).Run(context.Background(), "web-only"))

	task, _ := f.store.Get(context.Background(), "web-only")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.Len(t, task.Candidates, 1)
	assert.Equal(t, "web-1", task.Candidates[0].SourceID)
	// 0.5*1 + 0.3*0.4 + 0.2*1
	assert.InDelta(t, 0.82, task.Candidates[0].CompositeScore, 1e-3)
}

func TestRun_NoRelevantSources(t *testing.T) {
	f := newFixture()
	solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb(), RelevanceThreshold: threshold(0.99)})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, domain.StateRetrieving, task.LastState)
	assert.Equal(t, "ranking: "+workflow.ErrNoRelevantSources.Error(), task.Error)
}

func TestRun_WritingFailureStoresNoEssay(t *testing.T) {
	f := newFixture()
	f.completer = completerFunc(func(ctx context.Context, prompt string, p llm.Params) (string, error) {
		if p.JSON {
			return `{"title":"T"}`, nil
		}
		return "", errors.New("rate limited")
	})
	solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, domain.StateRanking, task.LastState)
	assert.Equal(t, "writing: completion service: rate limited", task.Error)
	assert.Nil(t, task.Essay)
	assert.NotEmpty(t, task.Candidates)
}

func TestRun_EmptyEssayFails(t *testing.T) {
	for _, body := range []string{"", "   \n\t  "} {
		f := newFixture()
		f.completer = completerFunc(func(ctx context.Context, prompt string, p llm.Params) (string, error) {
			if p.JSON {
				return `{"title":"T"}`, nil
			}
			return body, nil
		})
		solarTask(t, f.store, domain.TaskOptions{EnableWebSearch: noWeb()})

		require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

		task, _ := f.store.Get(context.Background(), "task-1")
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, domain.StateRanking, task.LastState)
		assert.Equal(t, "writing: completion service: empty completion received", task.Error)
		assert.Nil(t, task.Essay)
	}
}

func TestRun_ConcurrentTasksShareIndex(t *testing.T) {
	f := newFixture()
	engine := f.engine(t)
	dir := t.TempDir()

	const n = 6
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("grid scale storage ", 30)), 0o644))
		require.NoError(t, f.store.Create(context.Background(), &domain.ResearchTask{
			ID:     string(rune('a' + i)),
			Topic:  "Storage",
			PDFs:   []domain.PDFInput{{Path: p, Kind: domain.KindPeerReviewed}},
			Status: domain.StatusPending,
		}))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, engine.Run(context.Background(), id))
		}(string(rune('a' + i)))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		task, _ := f.store.Get(context.Background(), string(rune('a'+i)))
		assert.Equal(t, domain.StatusCompleted, task.Status, task.Error)
	}
}

func TestRun_RuntimeSettingsApply(t *testing.T) {
	f := newFixture()
	f.settings = settings.NewService(settings.NewMemoryRepo(settings.Settings{
		RelevanceThreshold: 0.9,
		MaxRelevantSources: 5,
		WeightSimilarity:   0.5,
		WeightSourceType:   0.3,
		WeightRecency:      0.2,
		EnableWebSearch:    false,
	}))
	f.web = stubWeb{err: errors.New("web must not be queried")}
	solarTask(t, f.store, domain.TaskOptions{})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.NotContains(t, task.Transitions, domain.StateSearchingWeb)
	// Only the peer reviewed source (0.97) clears 0.9; the preprint scores 0.88.
	require.Len(t, task.Candidates, 1)
	assert.Equal(t, domain.KindPeerReviewed, task.Candidates[0].Kind)
}

func TestRun_ZeroThresholdOverridesSettings(t *testing.T) {
	f := newFixture()
	f.settings = settings.NewService(settings.NewMemoryRepo(settings.Settings{
		RelevanceThreshold: 0.9,
		MaxRelevantSources: 5,
		WeightSimilarity:   0.5,
		WeightSourceType:   0.3,
		WeightRecency:      0.2,
		EnableWebSearch:    false,
	}))
	f.web = stubWeb{err: errors.New("web must not be queried")}
	solarTask(t, f.store, domain.TaskOptions{RelevanceThreshold: threshold(0)})

	require.NoError(t, f.engine(t).Run(context.Background(), "task-1"))

	task, _ := f.store.Get(context.Background(), "task-1")
	require.Equal(t, domain.StatusCompleted, task.Status, task.Error)
	kinds := make([]domain.SourceKind, 0, len(task.Candidates))
	for _, c := range task.Candidates {
		kinds = append(kinds, c.Kind)
	}
	// The preprint scores 0.88 and survives only because the task asked for 0.
	assert.Contains(t, kinds, domain.KindPreprint)
	assert.Contains(t, kinds, domain.KindPeerReviewed)
}
