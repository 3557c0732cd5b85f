package retrieval

import (
	"context"
	"time"

	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/llm"
)

// Hit is one source found by a retrieval, with the chunks that matched.
type Hit struct {
	Source     domain.SourceMeta
	ChunkIDs   []string
	Excerpts   []string
	Similarity float64
}

type Service struct {
	embedder llm.Embedder
	idx      index.Index
	logger   *QueryLogger
}

func NewService(e llm.Embedder, idx index.Index, l *QueryLogger) *Service {
	return &Service{embedder: e, idx: idx, logger: l}
}

// Search returns the raw chunk matches for query.
func (s *Service) Search(ctx context.Context, query string, k int) ([]index.Match, error) {
	start := time.Now()
	matches, err := s.search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	s.logger.Log(ctx, QueryLogEntry{
		Kind:       "search",
		Query:      query,
		K:          k,
		NumResults: len(matches),
		Index:      s.idx.Name(),
		Duration:   time.Since(start),
	})
	return matches, nil
}

// Retrieve groups the top k chunk matches by source. Sources appear in the
// order of their best match; each keeps its best similarity and its distinct
// chunk ids.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	start := time.Now()
	matches, err := s.search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	hits := Group(matches)

	s.logger.Log(ctx, QueryLogEntry{
		Kind:       "retrieve",
		Query:      query,
		K:          k,
		NumResults: len(matches),
		NumSources: len(hits),
		Index:      s.idx.Name(),
		Duration:   time.Since(start),
	})
	return hits, nil
}

func (s *Service) search(ctx context.Context, query string, k int) ([]index.Match, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.idx.Search(ctx, vec, k)
}

// Group collapses matches by source id. A chunk indexed more than once is
// counted once.
func Group(matches []index.Match) []Hit {
	var hits []Hit
	pos := make(map[string]int)
	seenChunk := make(map[string]bool)

	for _, m := range matches {
		if seenChunk[m.Chunk.ID] {
			continue
		}
		seenChunk[m.Chunk.ID] = true

		i, ok := pos[m.Chunk.SourceID]
		if !ok {
			src := m.Chunk.Source
			if src.ID == "" {
				src.ID = m.Chunk.SourceID
			}
			pos[m.Chunk.SourceID] = len(hits)
			hits = append(hits, Hit{Source: src, Similarity: m.Similarity})
			i = len(hits) - 1
		}

		h := &hits[i]
		h.ChunkIDs = append(h.ChunkIDs, m.Chunk.ID)
		h.Excerpts = append(h.Excerpts, m.Chunk.Text)
		if m.Similarity > h.Similarity {
			h.Similarity = m.Similarity
		}
	}
	return hits
}
