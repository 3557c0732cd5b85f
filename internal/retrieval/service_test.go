package retrieval_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/retrieval"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func chunk(id, src string) domain.DocumentChunk {
	return domain.DocumentChunk{
		ID: id, SourceID: src, Text: "text of " + id,
		Source: domain.SourceMeta{ID: src, Title: "T" + src},
	}
}

func TestService_Retrieve(t *testing.T) {
	ctx := context.Background()
	idx := index.NewLinear()
	_, err := idx.Insert(ctx, []index.Entry{
		{Chunk: chunk("a:0", "a"), Vector: []float32{1, 0}},
		{Chunk: chunk("b:0", "b"), Vector: []float32{0.9, 0.1}},
		{Chunk: chunk("a:1", "a"), Vector: []float32{0.5, 0.5}},
		{Chunk: chunk("c:0", "c"), Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "solar energy").Return([]float32{1, 0}, nil)

	var logBuf bytes.Buffer
	svc := retrieval.NewService(emb, idx, retrieval.NewQueryLogger(&logBuf))

	hits, err := svc.Retrieve(ctx, "solar energy", 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "a", hits[0].Source.ID)
	assert.Equal(t, []string{"a:0", "a:1"}, hits[0].ChunkIDs)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, "b", hits[1].Source.ID)
	assert.Contains(t, logBuf.String(), `"kind":"retrieve"`)
	emb.AssertExpectations(t)
}

func TestGroup_DuplicateChunksCollapse(t *testing.T) {
	ms := []index.Match{
		{Chunk: chunk("a:0", "a"), Similarity: 0.9, Seq: 1},
		{Chunk: chunk("a:0", "a"), Similarity: 0.9, Seq: 2},
		{Chunk: chunk("b:0", "b"), Similarity: 0.5, Seq: 3},
	}
	hits := retrieval.Group(ms)
	require.Len(t, hits, 2)
	assert.Equal(t, []string{"a:0"}, hits[0].ChunkIDs)
	assert.Len(t, hits[0].Excerpts, 1)
}

func TestService_EmbedError(t *testing.T) {
	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return(nil, errors.New("embedding service: down"))

	svc := retrieval.NewService(emb, index.NewLinear(), nil)
	_, err := svc.Retrieve(context.Background(), "q", 5)
	assert.Error(t, err)

	_, err = svc.Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestService_SearchEmptyIndex(t *testing.T) {
	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return([]float32{1, 0}, nil)

	ms, err := retrieval.NewService(emb, index.NewLinear(), nil).Search(context.Background(), "q", 5)
	assert.NoError(t, err)
	assert.Empty(t, ms)
}
