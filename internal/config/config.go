package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	IndexWeaviate = "weaviate"
	IndexMilvus   = "milvus"
	IndexMemory   = "memory"

	QueueNSQ    = "nsq"
	QueueInline = "inline"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"scholar"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"scholar"`

	// Similarity index
	IndexBackend   string `envconfig:"INDEX_BACKEND" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	MilvusAddress  string `envconfig:"MILVUS_ADDRESS" default:"localhost:19530"`
	EmbeddingDim   int    `envconfig:"EMBEDDING_DIM" default:"768"`

	// Queue
	QueueMode  string `envconfig:"QUEUE_MODE" default:"nsq"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI       bool `envconfig:"ENABLE_API" default:"true"`
	EnableRunWorker bool `envconfig:"ENABLE_RUN_WORKER" default:"true"`

	// Language models
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"gemini"`
	GeminiAPIKey   string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OpenAIAPIKey   string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel    string  `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
	EmbeddingModel string  `envconfig:"EMBEDDING_MODEL"`
	Temperature    float32 `envconfig:"TEMPERATURE" default:"0.7"`

	// Pipeline
	MaxTokensPerChunk   int     `envconfig:"MAX_TOKENS_PER_CHUNK" default:"1000"`
	ChunkOverlap        int     `envconfig:"CHUNK_OVERLAP" default:"200"`
	RelevanceThreshold  float64 `envconfig:"RELEVANCE_THRESHOLD" default:"0.6"`
	MaxRelevantSources  int     `envconfig:"MAX_RELEVANT_SOURCES" default:"10"`
	RetrievalTopK       int     `envconfig:"RETRIEVAL_TOP_K" default:"50"`
	WeightSimilarity    float64 `envconfig:"WEIGHT_SIMILARITY" default:"0.5"`
	WeightSourceType    float64 `envconfig:"WEIGHT_SOURCE_TYPE" default:"0.3"`
	WeightRecency       float64 `envconfig:"WEIGHT_RECENCY" default:"0.2"`
	RecencyHalfLifeDays int     `envconfig:"RECENCY_HALF_LIFE_DAYS" default:"1825"`
	AnalystEnabled      bool    `envconfig:"ANALYST_ENABLED" default:"false"`

	// Web search
	EnableWebSearch      bool     `envconfig:"ENABLE_WEB_SEARCH" default:"true"`
	MaxSearchResults     int      `envconfig:"MAX_SEARCH_RESULTS" default:"10"`
	SearchTimeoutSeconds int      `envconfig:"SEARCH_TIMEOUT_SECONDS" default:"30"`
	FetchTimeoutSeconds  int      `envconfig:"FETCH_TIMEOUT_SECONDS" default:"10"`
	FetchRatePerSecond   float64  `envconfig:"FETCH_RATE_PER_SECOND" default:"1"`
	SearchExclusions     []string `envconfig:"SEARCH_EXCLUSIONS"`

	// External calls
	EmbedTimeoutSeconds      int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	CompletionTimeoutSeconds int `envconfig:"COMPLETION_TIMEOUT_SECONDS" default:"120"`
	ExternalRetryAttempts    int `envconfig:"EXTERNAL_RETRY_ATTEMPTS" default:"3"`
	IngestionConcurrency     int `envconfig:"INGESTION_CONCURRENCY" default:"8"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"SCHOLAR_UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.IndexBackend {
	case IndexWeaviate, IndexMilvus, IndexMemory:
	default:
		return fmt.Errorf("%w: INDEX_BACKEND %q", ErrInvalid, c.IndexBackend)
	}
	switch c.QueueMode {
	case QueueNSQ, QueueInline:
	default:
		return fmt.Errorf("%w: QUEUE_MODE %q", ErrInvalid, c.QueueMode)
	}
	switch c.LLMProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: LLM_PROVIDER %q", ErrInvalid, c.LLMProvider)
	}

	if c.MaxTokensPerChunk <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxTokensPerChunk {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than MAX_TOKENS_PER_CHUNK", ErrInvalid)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: RELEVANCE_THRESHOLD must be within [0,1]", ErrInvalid)
	}
	if sum := c.WeightSimilarity + c.WeightSourceType + c.WeightRecency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: ranking weights must sum to 1, got %.3f", ErrInvalid, sum)
	}
	if c.MaxRelevantSources <= 0 || c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: MAX_RELEVANT_SOURCES and RETRIEVAL_TOP_K must be positive", ErrInvalid)
	}
	return nil
}

func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.CompletionTimeoutSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

func (c *Config) RecencyHalfLife() time.Duration {
	return time.Duration(c.RecencyHalfLifeDays) * 24 * time.Hour
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
