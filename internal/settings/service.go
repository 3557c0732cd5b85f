package settings

import (
	"context"
	"math"

	"scholar/internal/apperr"
)

// Settings are the runtime-tunable knobs of the research pipeline. They are
// read at the start of every run, so changes apply to the next task run.
type Settings struct {
	ID                 int     `json:"-"`
	GeminiAPIKey       string  `json:"gemini_api_key"`
	OpenAIAPIKey       string  `json:"openai_api_key"`
	RelevanceThreshold float64 `json:"relevance_threshold"`
	MaxRelevantSources int     `json:"max_relevant_sources"`
	WeightSimilarity   float64 `json:"weight_similarity"`
	WeightSourceType   float64 `json:"weight_source_type"`
	WeightRecency      float64 `json:"weight_recency"`
	EnableWebSearch    bool    `json:"enable_web_search"`
}

func (s *Settings) Validate() error {
	if s.RelevanceThreshold < 0 || s.RelevanceThreshold > 1 {
		return apperr.Configf("relevance_threshold must be within [0,1], got %.3f", s.RelevanceThreshold)
	}
	if s.MaxRelevantSources <= 0 {
		return apperr.Configf("max_relevant_sources must be positive, got %d", s.MaxRelevantSources)
	}
	if s.WeightSimilarity < 0 || s.WeightSourceType < 0 || s.WeightRecency < 0 {
		return apperr.Configf("ranking weights must not be negative")
	}
	if sum := s.WeightSimilarity + s.WeightSourceType + s.WeightRecency; math.Abs(sum-1) > 1e-6 {
		return apperr.Configf("ranking weights must sum to 1, got %.3f", sum)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}
