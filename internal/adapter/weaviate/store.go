package weaviate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/retry"
	"scholar/internal/vector"
)

// overFetch widens each query so ties around the k boundary can be re-sorted
// by insertion order before truncation. Search widens further while a tie
// reaches the end of the window.
const overFetch = 2

// Store is the Weaviate-backed similarity index.
type Store struct {
	client *weaviate.Client
	seq    index.Sequence
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// Opener connects to Weaviate and ensures the chunk class exists. Any failure
// to reach the server is reported as apperr.ErrIndexUnavailable.
func Opener(host, scheme string, policy retry.Policy) index.Opener {
	return func(ctx context.Context) (index.Index, error) {
		client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
		if err != nil {
			return nil, apperr.Unavailable("weaviate", err)
		}

		err = retry.Do(ctx, policy, func(ctx context.Context) error {
			return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(client))
		})
		if err != nil {
			return nil, apperr.Unavailable("weaviate", err)
		}
		return NewStore(client), nil
	}
}

func (s *Store) Name() string { return "weaviate" }

func (s *Store) Insert(ctx context.Context, entries []index.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	objs := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return 0, apperr.Configf("chunk %s has no embedding", e.Chunk.ID)
		}
		objs = append(objs, &models.Object{
			Class:      vector.ClassName,
			Properties: properties(e.Chunk, s.seq.Next()),
			Vector:     e.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return inserted, fmt.Errorf("batch insert: %s", r.Result.Errors.Error[0].Message)
		}
		inserted++
	}
	return inserted, nil
}

func properties(ch domain.DocumentChunk, seq int64) map[string]interface{} {
	props := map[string]interface{}{
		"content":     ch.Text,
		"chunkId":     ch.ID,
		"sourceId":    ch.SourceID,
		"chunkIndex":  ch.Index,
		"offset":      ch.Offset,
		"tokenCount":  ch.TokenCount,
		"origin":      string(ch.Source.Origin),
		"kind":        string(ch.Source.Kind),
		"uri":         ch.Source.URI,
		"title":       ch.Source.Title,
		"retrievedAt": ch.Source.RetrievedAt.UTC().Format(time.RFC3339),
		"seq":         seq,
	}
	if ch.Source.PublishedAt != nil {
		props["publishedAt"] = ch.Source.PublishedAt.UTC().Format(time.RFC3339)
	}
	return props
}

var searchFields = []graphql.Field{
	{Name: "content"},
	{Name: "chunkId"},
	{Name: "sourceId"},
	{Name: "chunkIndex"},
	{Name: "offset"},
	{Name: "tokenCount"},
	{Name: "origin"},
	{Name: "kind"},
	{Name: "uri"},
	{Name: "title"},
	{Name: "retrievedAt"},
	{Name: "publishedAt"},
	{Name: "seq"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
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
		if index.TieTruncated(matches, k, limit) {
			limit *= 2
			continue
		}
		if len(matches) > k {
			matches = matches[:k]
		}
		return matches, nil
	}
}

func (s *Store) nearest(ctx context.Context, vec []float32, limit int) ([]index.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(searchFields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []index.Match
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rows, ok := data[vector.ClassName].([]interface{}); ok {
			for _, row := range rows {
				props, ok := row.(map[string]interface{})
				if !ok {
					continue
				}
				matches = append(matches, decodeMatch(props))
			}
		}
	}
	return matches, nil
}

func decodeMatch(props map[string]interface{}) index.Match {
	ch := domain.DocumentChunk{
		Text:       str(props["content"]),
		ID:         str(props["chunkId"]),
		SourceID:   str(props["sourceId"]),
		Index:      int(num(props["chunkIndex"])),
		Offset:     int(num(props["offset"])),
		TokenCount: int(num(props["tokenCount"])),
	}
	ch.Source = domain.SourceMeta{
		ID:     ch.SourceID,
		Origin: domain.Origin(str(props["origin"])),
		Kind:   domain.SourceKind(str(props["kind"])),
		URI:    str(props["uri"]),
		Title:  str(props["title"]),
	}
	if t, err := time.Parse(time.RFC3339, str(props["retrievedAt"])); err == nil {
		ch.Source.RetrievedAt = t
	}
	if t, err := time.Parse(time.RFC3339, str(props["publishedAt"])); err == nil {
		ch.Source.PublishedAt = &t
	}

	m := index.Match{Chunk: ch, Seq: int64(num(props["seq"]))}
	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		// Cosine distance is 1 - similarity.
		m.Similarity = 1 - num(additional["distance"])
	}
	return m
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	return int(num(meta["count"])), nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Weaviate returns numbers as JSON floats, except some _additional fields
// which older versions send as strings.
func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
