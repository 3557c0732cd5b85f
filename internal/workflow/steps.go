package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"scholar/internal/analyst"
	"scholar/internal/domain"
	"scholar/internal/essay"
	"scholar/internal/ranking"
	"scholar/internal/websearch"
)

func (e *Engine) init(ctx context.Context, r *run) (domain.State, error) {
	slog.InfoContext(ctx, "research started", "topic", r.task.Topic, "pdfs", len(r.task.PDFs))
	return domain.StateIngestingPDFs, nil
}

func (e *Engine) ingestPDFs(ctx context.Context, r *run) (domain.State, error) {
	if len(r.task.PDFs) > 0 {
		res, err := e.deps.Ingester.Ingest(ctx, r.task.PDFs)
		if err != nil {
			return "", err
		}
		r.chunks = append(r.chunks, res.Chunks...)
		slog.InfoContext(ctx, "pdfs ingested",
			"documents", len(res.Documents),
			"failed", len(res.Failed),
			"chunks", len(res.Chunks))
	}

	if e.webEnabled(r) {
		return domain.StateSearchingWeb, nil
	}
	return domain.StateIndexing, nil
}

func (e *Engine) webEnabled(r *run) bool {
	if e.deps.Web == nil {
		return false
	}
	if on := r.task.Options.EnableWebSearch; on != nil {
		return *on
	}
	return r.defaults.EnableWebSearch
}

func (e *Engine) searchWeb(ctx context.Context, r *run) (domain.State, error) {
	docs, err := e.deps.Web.Collect(ctx, r.task.Topic, r.task.Requirements, r.defaults.MaxSearchResults)
	if errors.Is(err, websearch.ErrAllQueriesFailed) {
		slog.WarnContext(ctx, "web search unavailable, continuing without web sources", "error", err)
		return domain.StateIndexing, nil
	}
	if err != nil {
		return "", err
	}

	before := len(r.chunks)
	for _, doc := range docs {
		r.chunks = append(r.chunks, e.deps.Chunker.ChunkDocument(doc)...)
	}
	slog.InfoContext(ctx, "web pages chunked", "pages", len(docs), "chunks", len(r.chunks)-before)
	return domain.StateIndexing, nil
}

func (e *Engine) index(ctx context.Context, r *run) (domain.State, error) {
	if _, err := e.deps.Indexer.Index(ctx, r.chunks); err != nil {
		return "", err
	}
	return domain.StateRetrieving, nil
}

func (e *Engine) retrieve(ctx context.Context, r *run) (domain.State, error) {
	query := strings.TrimSpace(r.task.Topic + " " + r.task.Requirements)
	hits, err := e.deps.Retrieve.Retrieve(ctx, query, r.defaults.RetrievalTopK)
	if err != nil {
		return "", err
	}
	r.hits = hits
	return domain.StateRanking, nil
}

func (e *Engine) rank(ctx context.Context, r *run) (domain.State, error) {
	opts := r.defaults.Ranking
	if t := r.task.Options.RelevanceThreshold; t != nil {
		opts.Threshold = *t
	}
	if m := r.task.Options.MaxRelevantSources; m > 0 {
		opts.MaxSources = m
	}
	ranker, err := ranking.New(opts)
	if err != nil {
		return "", err
	}

	inputs := make([]ranking.Input, len(r.hits))
	for i, h := range r.hits {
		inputs[i] = ranking.Input{Source: h.Source, ChunkIDs: h.ChunkIDs, Similarity: h.Similarity}
	}
	r.candidates = ranker.Rank(inputs)
	r.task.Candidates = r.candidates

	slog.InfoContext(ctx, "sources ranked",
		"retrieved", len(inputs),
		"accepted", len(r.candidates),
		"threshold", opts.Threshold)
	if len(r.candidates) == 0 {
		return "", ErrNoRelevantSources
	}

	if e.deps.Analyst != nil {
		e.deps.Analyst.AssessAll(ctx, r.task.Topic, r.task.Requirements, r.candidates, r.excerpts())
		summary := analyst.Summarize(r.candidates)
		slog.InfoContext(ctx, "analysis completed", "coverage", summary.Coverage, "assessed", summary.Assessed)
	}
	return domain.StateWriting, nil
}

func (e *Engine) write(ctx context.Context, r *run) (domain.State, error) {
	excerpts := r.excerpts()
	sources := make([]essay.Source, len(r.candidates))
	for i, c := range r.candidates {
		sources[i] = essay.Source{Candidate: c, Excerpt: excerpts[c.SourceID]}
	}

	out, err := e.deps.Writer.Write(ctx, essay.Request{
		Topic:        r.task.Topic,
		Requirements: r.task.Requirements,
		Length:       r.task.Options.EssayLength,
		FocusAreas:   r.task.Options.FocusAreas,
		Sources:      sources,
	})
	if err != nil {
		return "", err
	}
	r.task.Essay = out
	return domain.StateDone, nil
}

// excerpts joins the matched chunk texts of every retrieved source.
func (r *run) excerpts() map[string]string {
	out := make(map[string]string, len(r.hits))
	for _, h := range r.hits {
		out[h.Source.ID] = strings.Join(h.Excerpts, "\n")
	}
	return out
}
