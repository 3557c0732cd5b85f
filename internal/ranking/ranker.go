package ranking

import (
	"math"
	"sort"
	"time"

	"scholar/internal/apperr"
	"scholar/internal/domain"
)

const (
	DefaultThreshold  = 0.6
	DefaultMaxSources = 10
	DefaultHalfLife   = 5 * 365 * 24 * time.Hour
)

type Weights struct {
	Similarity float64
	SourceType float64
	Recency    float64
}

func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, SourceType: 0.3, Recency: 0.2}
}

func (w Weights) Validate() error {
	if w.Similarity < 0 || w.SourceType < 0 || w.Recency < 0 {
		return apperr.Configf("ranking weights must not be negative")
	}
	if sum := w.Similarity + w.SourceType + w.Recency; math.Abs(sum-1) > 1e-6 {
		return apperr.Configf("ranking weights must sum to 1, got %.6f", sum)
	}
	return nil
}

func DefaultTypeWeights() map[domain.SourceKind]float64 {
	return map[domain.SourceKind]float64{
		domain.KindPeerReviewed: 0.9,
		domain.KindPreprint:     0.6,
		domain.KindPDF:          0.7,
		domain.KindWeb:          0.4,
	}
}

type Options struct {
	Weights     Weights
	TypeWeights map[domain.SourceKind]float64
	HalfLife    time.Duration
	Threshold   float64
	MaxSources  int
	// Now is the reference time for recency; zero means time.Now.
	Now time.Time
}

// Input is one retrieved source to be scored.
type Input struct {
	Source     domain.SourceMeta
	ChunkIDs   []string
	Similarity float64
}

type Ranker struct {
	opts Options
}

func New(opts Options) (*Ranker, error) {
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, apperr.Configf("relevance threshold must be within [0,1], got %.3f", opts.Threshold)
	}
	if opts.MaxSources <= 0 {
		return nil, apperr.Configf("max relevant sources must be positive, got %d", opts.MaxSources)
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultHalfLife
	}
	if opts.TypeWeights == nil {
		opts.TypeWeights = DefaultTypeWeights()
	}
	return &Ranker{opts: opts}, nil
}

// Recency decays by half every halfLife. Undated and future sources score 1.
func Recency(published, now time.Time, halfLife time.Duration) float64 {
	if published.IsZero() {
		return 1
	}
	age := now.Sub(published)
	if age <= 0 {
		return 1
	}
	return clamp01(math.Exp2(-float64(age) / float64(halfLife)))
}

// Score computes the composite of every input and returns them sorted by
// composite descending, input order breaking ties. Accepted marks the
// candidates that pass the threshold, up to MaxSources.
func (r *Ranker) Score(inputs []Input) []domain.RankedCandidate {
	now := r.opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	w := r.opts.Weights

	out := make([]domain.RankedCandidate, len(inputs))
	for i, in := range inputs {
		sim := clamp01(in.Similarity)
		typeW := clamp01(r.opts.TypeWeights[in.Source.Kind])

		dated := in.Source.RetrievedAt
		if in.Source.PublishedAt != nil {
			dated = *in.Source.PublishedAt
		}
		rec := Recency(dated, now, r.opts.HalfLife)

		out[i] = domain.RankedCandidate{
			SourceID:         in.Source.ID,
			Title:            in.Source.Title,
			URI:              in.Source.URI,
			Origin:           in.Source.Origin,
			Kind:             in.Source.Kind,
			ChunkIDs:         in.ChunkIDs,
			SimilarityScore:  sim,
			SourceTypeWeight: typeW,
			RecencyWeight:    rec,
			CompositeScore:   w.Similarity*sim + w.SourceType*typeW + w.Recency*rec,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompositeScore > out[j].CompositeScore
	})

	accepted := 0
	for i := range out {
		if accepted < r.opts.MaxSources && out[i].CompositeScore >= r.opts.Threshold {
			out[i].Accepted = true
			accepted++
		}
	}
	return out
}

// Rank returns only the accepted candidates, best first.
func (r *Ranker) Rank(inputs []Input) []domain.RankedCandidate {
	var accepted []domain.RankedCandidate
	for _, c := range r.Score(inputs) {
		if c.Accepted {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
