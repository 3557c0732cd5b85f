package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"scholar/features/job"
	"scholar/features/mcp"
	"scholar/features/research"
	"scholar/features/stats"
	"scholar/internal/analyst"
	"scholar/internal/config"
	"scholar/internal/essay"
	"scholar/internal/index"
	"scholar/internal/indexer"
	"scholar/internal/ingest"
	"scholar/internal/llm"
	"scholar/internal/metrics"
	"scholar/internal/middleware"
	"scholar/internal/ranking"
	"scholar/internal/retrieval"
	"scholar/internal/settings"
	"scholar/internal/text"
	"scholar/internal/websearch"
	"scholar/internal/worker"
	"scholar/internal/workflow"
)

type App struct {
	Handler     http.Handler
	Research    *research.Service
	Engine      *workflow.Engine
	RunConsumer *worker.RunConsumer

	port    int
	inline  *worker.InlinePublisher
	closers []io.Closer
}

// Models overrides the provider clients built from the configuration.
// Both fields must be set together.
type Models struct {
	Embedder  llm.Embedder
	Completer llm.Completer
}

func New(cfg *config.Config, deps *Dependencies, models *Models) (*App, error) {
	if deps == nil || deps.DB == nil {
		return nil, errors.New("app: database is required")
	}
	idx := deps.Index
	if idx == nil {
		idx = index.NewLinear()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(reg)
	}

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(deps.DB))
	seedKeys(context.Background(), cfg, settingsService)
	settingsHandler := settings.NewHandler(settingsService)

	var embedder llm.Embedder
	var completer llm.Completer
	if models != nil {
		embedder, completer = models.Embedder, models.Completer
	} else {
		embedder, completer = NewModels(cfg, settingsService)
	}

	queryLogger, closer, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	a := &App{port: cfg.ServerPort}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	retrievalService := retrieval.NewService(embedder, idx, queryLogger)

	taskRepo := research.NewPostgresRepo(deps.DB)
	a.Engine, err = NewEngine(cfg, Pipeline{
		Store:     taskRepo,
		Settings:  settingsService,
		Index:     idx,
		Retriever: retrievalService,
		Embedder:  embedder,
		Completer: completer,
		Metrics:   m,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	a.RunConsumer = worker.NewRunConsumer(a.Engine, taskRepo, jobRepo)

	var pub research.EventPublisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	} else {
		a.inline = worker.NewInlinePublisher(a.RunConsumer)
		pub = a.inline
	}

	// Feature: Research
	a.Research = research.NewService(taskRepo, pub)
	researchHandler := research.NewHandler(a.Research, cfg.UploadDir, cfg.MaxUploadSizeMB)

	jobHandler := job.NewHandler(job.NewService(jobRepo, pub, slog.Default()))

	// Feature: Stats
	statsHandler := stats.NewHandler(taskRepo, jobRepo, idx)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(retrievalService, a.Research)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /research", middleware.Chain(researchHandler.Create))
	mux.Handle("GET /research", middleware.Chain(researchHandler.List))
	mux.Handle("GET /research/{id}", middleware.Chain(researchHandler.Get))
	mux.Handle("DELETE /research/{id}", middleware.Chain(researchHandler.Delete))
	mux.Handle("GET /research/{id}/status", middleware.Chain(researchHandler.Status))
	mux.Handle("POST /research/{id}/run", middleware.Chain(researchHandler.Run))
	mux.Handle("GET /research/{id}/essay", middleware.Chain(researchHandler.Essay))
	mux.Handle("GET /research/{id}/essay/download", middleware.Chain(researchHandler.Download))
	mux.Handle("POST /research/{id}/pdfs", middleware.Chain(researchHandler.UploadPDF))

	mux.Handle("GET /settings", middleware.Chain(settingsHandler.GetSettings))
	mux.Handle("PUT /settings", middleware.Chain(settingsHandler.UpdateSettings))

	mux.Handle("GET /jobs/failed", middleware.Chain(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", middleware.Chain(jobHandler.Retry))

	mux.Handle("GET /stats", middleware.Chain(statsHandler.GetStats))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.Chain(mcpHandler.HandleSSE))
	mux.Handle("POST /mcp/messages", middleware.Chain(mcpHandler.HandleMessage))

	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Warn("failed to write health response", "error", err)
		}
	})

	a.Handler = mux
	return a, nil
}

// Pipeline holds the collaborators a research engine is assembled from.
type Pipeline struct {
	Store     workflow.TaskStore
	Settings  *settings.Service
	Index     index.Index
	Retriever *retrieval.Service
	Embedder  llm.Embedder
	Completer llm.Completer
	Metrics   *metrics.Metrics
}

// NewEngine assembles the research workflow. Web search and the analyst are
// wired only when enabled in cfg.
func NewEngine(cfg *config.Config, p Pipeline) (*workflow.Engine, error) {
	chunker, err := text.NewChunker(cfg.MaxTokensPerChunk, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	deps := workflow.Deps{
		Store:    p.Store,
		Ingester: ingest.New(ingest.FileExtractor{}, chunker, cfg.IngestionConcurrency),
		Chunker:  chunker,
		Indexer:  indexer.New(p.Embedder, p.Index, cfg.IngestionConcurrency, p.Metrics),
		Retrieve: p.Retriever,
		Writer:   essay.NewWriter(p.Completer, cfg.Temperature),
		Metrics:  p.Metrics,
	}
	if p.Settings != nil {
		deps.Settings = p.Settings
	}
	if cfg.EnableWebSearch {
		deps.Web = newCollector(cfg)
	}
	if cfg.AnalystEnabled {
		deps.Analyst = analyst.New(p.Completer, cfg.Temperature)
	}
	return workflow.NewEngine(deps, Defaults(cfg)), nil
}

// Defaults derives the per-task fallbacks from the configuration. Runtime
// settings override them at the start of every run.
func Defaults(cfg *config.Config) workflow.Defaults {
	return workflow.Defaults{
		EnableWebSearch:  cfg.EnableWebSearch,
		MaxSearchResults: cfg.MaxSearchResults,
		RetrievalTopK:    cfg.RetrievalTopK,
		Ranking: ranking.Options{
			Weights: ranking.Weights{
				Similarity: cfg.WeightSimilarity,
				SourceType: cfg.WeightSourceType,
				Recency:    cfg.WeightRecency,
			},
			TypeWeights: ranking.DefaultTypeWeights(),
			HalfLife:    cfg.RecencyHalfLife(),
			Threshold:   cfg.RelevanceThreshold,
			MaxSources:  cfg.MaxRelevantSources,
		},
	}
}

func newCollector(cfg *config.Config) *websearch.Collector {
	searcher := websearch.NewDuckDuckGo(&http.Client{Timeout: cfg.SearchTimeout()}, "")
	fetcher := websearch.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout()}, cfg.FetchRatePerSecond)
	return websearch.NewCollector(searcher, fetcher, cfg.SearchExclusions, cfg.IngestionConcurrency)
}

// seedKeys copies provider keys from the environment into settings that
// have none yet.
func seedKeys(ctx context.Context, cfg *config.Config, svc *settings.Service) {
	if cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey == "" {
		return
	}
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}

	changed := false
	if set.GeminiAPIKey == "" && cfg.GeminiAPIKey != "" {
		set.GeminiAPIKey = cfg.GeminiAPIKey
		changed = true
	}
	if set.OpenAIAPIKey == "" && cfg.OpenAIAPIKey != "" {
		set.OpenAIAPIKey = cfg.OpenAIAPIKey
		changed = true
	}
	if !changed {
		return
	}
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed api keys", "error", err)
		return
	}
	slog.Info("seeded api keys from environment")
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close waits for inline runs and releases the query log.
func (a *App) Close() error {
	if a.inline != nil {
		a.inline.Wait()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
