package indexer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/llm"
	"scholar/internal/metrics"
)

const DefaultConcurrency = 8

// Indexer is the only writer of the similarity index.
type Indexer struct {
	embedder    llm.Embedder
	idx         index.Index
	concurrency int
	metrics     *metrics.Metrics
}

func New(embedder llm.Embedder, idx index.Index, concurrency int, m *metrics.Metrics) *Indexer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Indexer{embedder: embedder, idx: idx, concurrency: concurrency, metrics: m}
}

// Index embeds every chunk and inserts them in chunk order. The first
// embedding failure aborts the batch and nothing is inserted.
func (i *Indexer) Index(ctx context.Context, chunks []domain.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	entries := make([]index.Entry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for n := range chunks {
		g.Go(func() error {
			vec, err := i.embedder.Embed(gctx, chunks[n].Text)
			if err != nil {
				return err
			}
			ch := chunks[n]
			ch.Embedding = vec
			entries[n] = index.Entry{Chunk: ch, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	inserted, err := i.idx.Insert(ctx, entries)
	if err != nil {
		return inserted, err
	}

	slog.InfoContext(ctx, "chunks indexed", "count", inserted, "index", i.idx.Name())
	i.metrics.ChunksIndexed(inserted)
	return inserted, nil
}
