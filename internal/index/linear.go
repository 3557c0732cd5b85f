package index

import (
	"context"
	"sync"

	"scholar/internal/apperr"
)

const LinearName = "memory"

type linearEntry struct {
	Entry
	seq int64
}

// Linear is an append-only in-process index answering queries with a full
// cosine scan.
type Linear struct {
	mu      sync.RWMutex
	entries []linearEntry
	dim     int
	seq     Sequence
}

func NewLinear() *Linear {
	return &Linear{}
}

func (l *Linear) Name() string { return LinearName }

func (l *Linear) Insert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dim, err := validateEntries(entries, l.dim)
	if err != nil {
		return 0, err
	}
	l.dim = dim

	for _, e := range entries {
		l.entries = append(l.entries, linearEntry{Entry: e, seq: l.seq.Next()})
	}
	return len(entries), nil
}

func (l *Linear) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil, nil
	}
	if len(vector) != l.dim {
		return nil, apperr.Configf("query has dimension %d, index expects %d", len(vector), l.dim)
	}

	matches := make([]Match, 0, len(l.entries))
	for _, e := range l.entries {
		matches = append(matches, Match{
			Chunk:      e.Chunk,
			Similarity: Cosine(vector, e.Vector),
			Seq:        e.seq,
		})
	}

	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (l *Linear) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}
