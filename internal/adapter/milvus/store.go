package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	milvusindex "github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/retry"
)

const (
	CollectionName = "research_documents"
	vectorField    = "embedding"
	overFetch      = 2
	// Largest topK a Milvus search accepts.
	maxTopK        = 16384
)

var varcharFields = []struct {
	name   string
	maxLen int64
}{
	{"chunk_id", 256},
	{"source_id", 128},
	{"content", 65535},
	{"origin", 16},
	{"kind", 32},
	{"uri", 2048},
	{"title", 1024},
}

var int64Fields = []string{"chunk_index", "chunk_offset", "token_count", "seq", "retrieved_at", "published_at"}

// Store is the Milvus-backed similarity index. Scores come from the COSINE
// metric, which Milvus already reports as a similarity.
type Store struct {
	client *milvusclient.Client
	seq    index.Sequence
}

func NewStore(client *milvusclient.Client) *Store {
	return &Store{client: client}
}

// Opener connects to Milvus and makes sure the collection exists and is loaded.
func Opener(address string, dim int, policy retry.Policy) index.Opener {
	return func(ctx context.Context) (index.Index, error) {
		var client *milvusclient.Client
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: address})
			if err != nil {
				return err
			}
			client = c
			return nil
		})
		if err != nil {
			return nil, apperr.Unavailable("milvus", err)
		}

		if err := ensureCollection(ctx, client, dim); err != nil {
			client.Close(ctx)
			return nil, apperr.Unavailable("milvus", err)
		}
		return NewStore(client), nil
	}
}

func ensureCollection(ctx context.Context, client *milvusclient.Client, dim int) error {
	exists, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(CollectionName))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		if err := client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(CollectionName, schema(dim))); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := milvusindex.NewIvfFlatIndex(entity.COSINE, 128)
		task, err := client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(CollectionName, vectorField, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	loadTask, err := client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(CollectionName))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return loadTask.Await(ctx)
}

func schema(dim int) *entity.Schema {
	s := entity.NewSchema().
		WithName(CollectionName).
		WithDescription("Chunks of research sources").
		WithAutoID(true)

	s.WithField(entity.NewField().
		WithName("id").
		WithDataType(entity.FieldTypeInt64).
		WithIsPrimaryKey(true).
		WithIsAutoID(true))
	s.WithField(entity.NewField().
		WithName(vectorField).
		WithDataType(entity.FieldTypeFloatVector).
		WithDim(int64(dim)))

	for _, f := range varcharFields {
		s.WithField(entity.NewField().WithName(f.name).WithDataType(entity.FieldTypeVarChar).WithMaxLength(f.maxLen))
	}
	for _, name := range int64Fields {
		s.WithField(entity.NewField().WithName(name).WithDataType(entity.FieldTypeInt64))
	}
	return s
}

func (s *Store) Name() string { return "milvus" }

func (s *Store) Insert(ctx context.Context, entries []index.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	cols, err := s.columns(entries)
	if err != nil {
		return 0, err
	}

	res, err := s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(CollectionName, cols...))
	if err != nil {
		return 0, fmt.Errorf("failed to insert into milvus: %w", err)
	}

	// Flush so the next search sees the rows.
	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(CollectionName))
	if err != nil {
		return 0, fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return 0, fmt.Errorf("failed to wait for flush: %w", err)
	}
	return int(res.InsertCount), nil
}

func (s *Store) columns(entries []index.Entry) ([]column.Column, error) {
	dim := len(entries[0].Vector)
	vectors := make([][]float32, len(entries))
	strs := make(map[string][]string, len(varcharFields))
	ints := make(map[string][]int64, len(int64Fields))

	for i, e := range entries {
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return nil, apperr.Configf("chunk %s has dimension %d, batch expects %d", e.Chunk.ID, len(e.Vector), dim)
		}
		vectors[i] = e.Vector

		ch := e.Chunk
		strs["chunk_id"] = append(strs["chunk_id"], ch.ID)
		strs["source_id"] = append(strs["source_id"], ch.SourceID)
		strs["content"] = append(strs["content"], ch.Text)
		strs["origin"] = append(strs["origin"], string(ch.Source.Origin))
		strs["kind"] = append(strs["kind"], string(ch.Source.Kind))
		strs["uri"] = append(strs["uri"], ch.Source.URI)
		strs["title"] = append(strs["title"], ch.Source.Title)

		var published int64
		if ch.Source.PublishedAt != nil {
			published = ch.Source.PublishedAt.Unix()
		}
		ints["chunk_index"] = append(ints["chunk_index"], int64(ch.Index))
		ints["chunk_offset"] = append(ints["chunk_offset"], int64(ch.Offset))
		ints["token_count"] = append(ints["token_count"], int64(ch.TokenCount))
		ints["seq"] = append(ints["seq"], s.seq.Next())
		ints["retrieved_at"] = append(ints["retrieved_at"], ch.Source.RetrievedAt.Unix())
		ints["published_at"] = append(ints["published_at"], published)
	}

	cols := []column.Column{column.NewColumnFloatVector(vectorField, dim, vectors)}
	for _, f := range varcharFields {
		cols = append(cols, column.NewColumnVarChar(f.name, strs[f.name]))
	}
	for _, name := range int64Fields {
		cols = append(cols, column.NewColumnInt64(name, ints[name]))
	}
	return cols, nil
}

func outputFields() []string {
	out := make([]string, 0, len(varcharFields)+len(int64Fields))
	for _, f := range varcharFields {
		out = append(out, f.name)
	}
	return append(out, int64Fields...)
}

func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]index.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	limit := k * overFetch
	for {
		matches, err := s.nearest(ctx, vec, limit)
		if err != nil {
			return nil, err
		}
		index.SortMatches(matches)
		if index.TieTruncated(matches, k, limit) && limit < maxTopK {
			limit = min(limit*2, maxTopK)
			continue
		}
		if len(matches) > k {
			matches = matches[:k]
		}
		return matches, nil
	}
}

func (s *Store) nearest(ctx context.Context, vec []float32, limit int) ([]index.Match, error) {
	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		CollectionName,
		limit,
		[]entity.Vector{entity.FloatVector(vec)},
	).WithANNSField(vectorField).
		WithSearchParam("nprobe", "16").
		WithOutputFields(outputFields()...))
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	matches := make([]index.Match, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		row := rowValues{strs: map[string]string{}, ints: map[string]int64{}}
		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				row.strs[col.Name()] = col.Data()[i]
			case *column.ColumnInt64:
				row.ints[col.Name()] = col.Data()[i]
			}
		}
		matches = append(matches, row.match(float64(rs.Scores[i])))
	}
	return matches, nil
}

type rowValues struct {
	strs map[string]string
	ints map[string]int64
}

func (r rowValues) match(score float64) index.Match {
	ch := domain.DocumentChunk{
		ID:         r.strs["chunk_id"],
		SourceID:   r.strs["source_id"],
		Text:       r.strs["content"],
		Index:      int(r.ints["chunk_index"]),
		Offset:     int(r.ints["chunk_offset"]),
		TokenCount: int(r.ints["token_count"]),
		Source: domain.SourceMeta{
			ID:          r.strs["source_id"],
			Origin:      domain.Origin(r.strs["origin"]),
			Kind:        domain.SourceKind(r.strs["kind"]),
			URI:         r.strs["uri"],
			Title:       r.strs["title"],
			RetrievedAt: time.Unix(r.ints["retrieved_at"], 0).UTC(),
		},
	}
	if p := r.ints["published_at"]; p != 0 {
		t := time.Unix(p, 0).UTC()
		ch.Source.PublishedAt = &t
	}
	return index.Match{Chunk: ch, Similarity: score, Seq: r.ints["seq"]}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	stats, err := s.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(CollectionName))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	val, ok := stats["row_count"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	return int(n), err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
