package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"

	"scholar/internal/adapter/gemini"
	"scholar/internal/adapter/milvus"
	"scholar/internal/adapter/openai"
	wstore "scholar/internal/adapter/weaviate"
	"scholar/internal/config"
	"scholar/internal/index"
	"scholar/internal/llm"
	"scholar/internal/metrics"
	"scholar/internal/retry"
	"scholar/internal/settings"
)

// Dependencies are the connections a server process needs. NSQProducer is
// nil in inline queue mode.
type Dependencies struct {
	DB          *sql.DB
	Index       index.Index
	NSQProducer *nsq.Producer
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	idx, err := OpenIndex(ctx, cfg, m)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("similarity index error: %w", err)
	}

	deps := &Dependencies{DB: db, Index: idx, Registry: reg, Metrics: m}

	if cfg.QueueMode == config.QueueNSQ {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// OpenIndex connects the configured similarity index. An unreachable managed
// backend falls back to the in-process index.
func OpenIndex(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (index.Index, error) {
	policy := retry.Policy{
		Attempts: cfg.BootstrapRetryAttempts,
		Initial:  time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second,
		Max:      30 * time.Second,
	}

	var opener index.Opener
	switch cfg.IndexBackend {
	case config.IndexWeaviate:
		opener = wstore.Opener(cfg.WeaviateHost, cfg.WeaviateScheme, policy)
	case config.IndexMilvus:
		opener = milvus.Opener(cfg.MilvusAddress, cfg.EmbeddingDim, policy)
	}
	return index.Open(ctx, cfg.IndexBackend, opener, m)
}

// NewModels builds the embedding and completion clients of the configured
// provider, guarded with timeouts and retries. API keys are read from the
// runtime settings on every call.
func NewModels(cfg *config.Config, svc *settings.Service) (llm.Embedder, llm.Completer) {
	policy := retry.DefaultPolicy()
	if cfg.ExternalRetryAttempts > 0 {
		policy.Attempts = cfg.ExternalRetryAttempts
	}

	var (
		embedder  llm.Embedder
		completer llm.Completer
	)
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		client := openai.NewClient(svc, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.EmbeddingModel)
		embedder, completer = client, client
	default:
		embedder = gemini.NewEmbedder(svc, cfg.EmbeddingModel)
		completer = gemini.NewCompleter(svc, cfg.GeminiModel)
	}

	return llm.NewGuardedEmbedder(embedder, cfg.EmbedTimeout(), policy),
		llm.NewGuardedCompleter(completer, cfg.CompletionTimeout(), policy)
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicResearchRun)
	}()
}
