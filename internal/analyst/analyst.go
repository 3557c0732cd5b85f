package analyst

import (
	"context"
	"fmt"
	"log/slog"

	"scholar/internal/domain"
	"scholar/internal/llm"
)

// MaxPreviewChars bounds how much source text is shown to the model.
const MaxPreviewChars = 2000

const relevancePrompt = `You are an expert research analyst. Analyze the following document for its relevance to the research topic.

Research Topic: %s
Research Requirements: %s

Document Title: %s
Document Content: %s
Document Source: %s

Assess this document and respond with JSON only:
{
  "relevance_score": 0.85,
  "reasoning": "This document directly addresses the research topic by...",
  "key_points": ["Point 1", "Point 2", "Point 3"],
  "confidence": 0.9
}`

// Analyst asks the completion service for a second opinion on ranked
// candidates. Its output is attached to a candidate and never changes
// whether the candidate is accepted.
type Analyst struct {
	completer   llm.Completer
	temperature float32
}

func New(c llm.Completer, temperature float32) *Analyst {
	return &Analyst{completer: c, temperature: temperature}
}

// Assess returns the model's view of how relevant c is. An answer that cannot
// be parsed yields a neutral assessment; a failed call returns the error.
func (a *Analyst) Assess(ctx context.Context, topic, requirements string, c domain.RankedCandidate, preview string) (domain.Assessment, error) {
	if r := []rune(preview); len(r) > MaxPreviewChars {
		preview = string(r[:MaxPreviewChars])
	}
	prompt := fmt.Sprintf(relevancePrompt, topic, requirements, c.Title, preview, c.Kind)

	raw, err := a.completer.Complete(ctx, prompt, llm.Params{Temperature: a.temperature, JSON: true})
	if err != nil {
		return domain.Assessment{}, err
	}

	var out domain.Assessment
	if err := llm.DecodeJSON(raw, &out); err != nil {
		slog.WarnContext(ctx, "unparseable relevance assessment", "source_id", c.SourceID, "error", err)
		return neutral(), nil
	}
	out.RelevanceScore = clamp01(out.RelevanceScore)
	out.Confidence = clamp01(out.Confidence)
	if out.KeyPoints == nil {
		out.KeyPoints = []string{}
	}
	return out, nil
}

// AssessAll attaches an assessment to every candidate. previews maps source id
// to the text shown to the model. Failures are logged and leave the
// candidate without an assessment.
func (a *Analyst) AssessAll(ctx context.Context, topic, requirements string, candidates []domain.RankedCandidate, previews map[string]string) {
	for i := range candidates {
		c := &candidates[i]
		assessment, err := a.Assess(ctx, topic, requirements, *c, previews[c.SourceID])
		if err != nil {
			slog.WarnContext(ctx, "relevance assessment failed", "source_id", c.SourceID, "error", err)
			continue
		}
		c.Assessment = &assessment
		slog.InfoContext(ctx, "source assessed",
			"source_id", c.SourceID,
			"relevance", assessment.RelevanceScore,
			"composite", c.CompositeScore)
	}
}

func neutral() domain.Assessment {
	return domain.Assessment{
		RelevanceScore: 0.5,
		Reasoning:      "Unable to parse assessment",
		KeyPoints:      []string{},
		Confidence:     0.5,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
