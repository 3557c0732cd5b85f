package index

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/metrics"
)

// Entry is one embedded chunk handed to an index.
type Entry struct {
	Chunk  domain.DocumentChunk
	Vector []float32
}

// Match is a search hit. Seq is the insertion sequence assigned by the index.
type Match struct {
	Chunk      domain.DocumentChunk
	Similarity float64
	Seq        int64
}

// Index stores chunk vectors and answers nearest-neighbour queries.
// Search returns matches by descending similarity; equal similarities keep
// insertion order. Implementations must accept concurrent inserts.
type Index interface {
	Insert(ctx context.Context, entries []Entry) (int, error)
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Name() string
}

// Opener connects to a managed index. It returns an error wrapping
// apperr.ErrIndexUnavailable when the backend cannot be reached.
type Opener func(ctx context.Context) (Index, error)

// Open connects through open once. An unreachable backend is replaced by an
// in-process Linear index so callers never branch on the backend. A nil
// opener selects Linear directly.
func Open(ctx context.Context, backend string, open Opener, m *metrics.Metrics) (Index, error) {
	if open == nil {
		return NewLinear(), nil
	}

	idx, err := open(ctx)
	if err == nil {
		slog.Info("similarity index ready", "backend", idx.Name())
		return idx, nil
	}
	if !errors.Is(err, apperr.ErrIndexUnavailable) {
		return nil, err
	}

	slog.Warn("managed index unavailable, using in-process index", "backend", backend, "error", err)
	m.IndexFallback(backend)
	return NewLinear(), nil
}

// Sequence hands out strictly increasing insertion numbers. It follows the
// wall clock in microseconds so numbers stay increasing across restarts
// against a persistent index and still fit a float64 exactly.
type Sequence struct {
	last atomic.Int64
}

func (s *Sequence) Next() int64 {
	for {
		last := s.last.Load()
		next := time.Now().UnixMicro()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero norm.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortMatches orders by similarity desc, then seq asc.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		return ms[i].Seq < ms[j].Seq
	})
}

// TieTruncated reports whether ms, sorted and fetched with the given limit,
// may have cut off entries tied with rank k. Remote backends re-query with a
// larger limit until it returns false.
func TieTruncated(ms []Match, k, limit int) bool {
	if k <= 0 || len(ms) < limit || len(ms) <= k {
		return false
	}
	return ms[len(ms)-1].Similarity == ms[k-1].Similarity
}

func validateEntries(entries []Entry, dim int) (int, error) {
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return dim, apperr.Configf("chunk %s has no embedding", e.Chunk.ID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return dim, apperr.Configf("chunk %s has dimension %d, index expects %d", e.Chunk.ID, len(e.Vector), dim)
		}
	}
	return dim, nil
}
