package settings

import (
	"context"
	"database/sql"
	"sync"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, openai_api_key, relevance_threshold, max_relevant_sources, weight_similarity, weight_source_type, weight_recency, enable_web_search FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.OpenAIAPIKey, &s.RelevanceThreshold, &s.MaxRelevantSources,
		&s.WeightSimilarity, &s.WeightSourceType, &s.WeightRecency, &s.EnableWebSearch)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET gemini_api_key = $1, openai_api_key = $2, relevance_threshold = $3, max_relevant_sources = $4,
			weight_similarity = $5, weight_source_type = $6, weight_recency = $7, enable_web_search = $8, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.OpenAIAPIKey, s.RelevanceThreshold, s.MaxRelevantSources,
		s.WeightSimilarity, s.WeightSourceType, s.WeightRecency, s.EnableWebSearch)
	return err
}

// MemoryRepo keeps settings in process, for the CLI and tests.
type MemoryRepo struct {
	mu sync.RWMutex
	s  Settings
}

func NewMemoryRepo(initial Settings) *MemoryRepo {
	initial.ID = 1
	return &MemoryRepo{s: initial}
}

func (r *MemoryRepo) Get(ctx context.Context) (*Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := r.s
	return &cp, nil
}

func (r *MemoryRepo) Update(ctx context.Context, s *Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = *s
	r.s.ID = 1
	return nil
}
