package indexer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/indexer"
)

// wordEmbedder maps text onto a tiny bag-of-words vector.
type wordEmbedder struct {
	failOn string
	calls  int32
}

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, apperr.External("embedding", errors.New("503"))
	}
	vocab := []string{"solar", "wind", "grid"}
	vec := make([]float32, len(vocab))
	for i, w := range vocab {
		vec[i] = float32(strings.Count(text, w))
	}
	return vec, nil
}

func chunks(n int) []domain.DocumentChunk {
	out := make([]domain.DocumentChunk, n)
	for i := range out {
		out[i] = domain.DocumentChunk{ID: fmt.Sprintf("doc:%d", i), SourceID: "doc", Index: i, Text: "solar grid"}
	}
	return out
}

func TestIndexer_PreservesChunkOrder(t *testing.T) {
	ctx := context.Background()
	idx := index.NewLinear()
	ix := indexer.New(&wordEmbedder{}, idx, 4, nil)

	n, err := ix.Index(ctx, chunks(20))
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	// Identical vectors: ties resolve by insertion order, which must be chunk order.
	ms, err := idx.Search(ctx, []float32{1, 0, 1}, 20)
	require.NoError(t, err)
	for i, m := range ms {
		assert.Equal(t, fmt.Sprintf("doc:%d", i), m.Chunk.ID)
		assert.NotEmpty(t, m.Chunk.Embedding)
	}
}

func TestIndexer_EmbeddingFailureInsertsNothing(t *testing.T) {
	ctx := context.Background()
	idx := index.NewLinear()
	cs := chunks(5)
	cs[3].Text = "wind"
	ix := indexer.New(&wordEmbedder{failOn: "wind"}, idx, 2, nil)

	_, err := ix.Index(ctx, cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExternalService))
	assert.Contains(t, err.Error(), "embedding service")

	count, _ := idx.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestIndexer_Empty(t *testing.T) {
	e := &wordEmbedder{}
	n, err := indexer.New(e, index.NewLinear(), 0, nil).Index(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.calls)
}
