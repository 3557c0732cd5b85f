package essay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholar/internal/domain"
	"scholar/internal/llm"
)

const (
	// MaxResearchSources caps how many sources are quoted in the essay prompt.
	MaxResearchSources = 15
	// MaxExcerptChars caps each quoted excerpt.
	MaxExcerptChars = 800
)

const outlinePrompt = `You are an expert academic writer. Create a detailed essay outline based on the research topic and collected data.

Research Topic: %s
Research Requirements: %s
Essay Length: %s

Available Sources:
%s

Create an outline with a compelling title, an introduction that sets up the topic,
3-5 main points that address the research requirements, and a conclusion that
synthesizes the findings. Respond with JSON only:
{
  "title": "Essay Title",
  "introduction": "Introduction text...",
  "main_points": ["Main point 1: Description", "Main point 2: Description"],
  "conclusion": "Conclusion text...",
  "sources": ["Source 1", "Source 2"]
}`

const essayPrompt = `You are an expert academic writer. Write a comprehensive essay based on the provided outline and research data.

Essay Outline:
Title: %s
Introduction: %s
Main Points:
%s
Conclusion: %s

Research Topic: %s
Research Requirements: %s
Essay Length: %s

Available Research Data:
%s

Write a well-structured academic essay in an academic tone. Support the arguments
with the research data, synthesize across sources and cite them by title.`

// Source is an accepted candidate together with the text the writer may quote.
type Source struct {
	Candidate domain.RankedCandidate
	Excerpt   string
}

// Request is everything the writer needs for one essay.
type Request struct {
	Topic        string
	Requirements string
	Length       string
	FocusAreas   []string
	Sources      []Source
}

type Writer struct {
	completer   llm.Completer
	temperature float32
	now         func() time.Time
}

func NewWriter(c llm.Completer, temperature float32) *Writer {
	return &Writer{completer: c, temperature: temperature, now: time.Now}
}

// Write drafts an outline, then the essay. An outline that cannot be parsed
// falls back to a generic one; a failed completion call fails the essay.
func (w *Writer) Write(ctx context.Context, req Request) (*domain.Essay, error) {
	length := req.Length
	if length == "" {
		length = LengthFromRequirements(req.Requirements)
	}
	requirements := req.Requirements
	if len(req.FocusAreas) > 0 {
		requirements = strings.TrimSpace(requirements + "\nFocus areas: " + strings.Join(req.FocusAreas, ", "))
	}

	outline, err := w.outline(ctx, req, requirements, length)
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}

	prompt := fmt.Sprintf(essayPrompt,
		outline.Title,
		outline.Introduction,
		strings.Join(outline.MainPoints, "\n"),
		outline.Conclusion,
		req.Topic,
		requirements,
		length,
		researchData(req.Sources))

	content, err := w.completer.Complete(ctx, prompt, llm.Params{Temperature: w.temperature})
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)

	e := &domain.Essay{
		ID:        uuid.New().String(),
		Title:     outline.Title,
		Content:   content,
		Outline:   outline,
		Sources:   citations(req.Sources),
		WordCount: len(strings.Fields(content)),
		CreatedAt: w.now().UTC(),
	}
	e.Validation = Validate(e, req.Requirements, length)

	slog.InfoContext(ctx, "essay written", "words", e.WordCount, "sources", len(e.Sources), "valid", e.Validation.Valid)
	for _, issue := range e.Validation.Issues {
		slog.WarnContext(ctx, "essay validation issue", "issue", issue)
	}
	return e, nil
}

func (w *Writer) outline(ctx context.Context, req Request, requirements, length string) (domain.Outline, error) {
	var summary []string
	for i, s := range req.Sources {
		line := fmt.Sprintf("%d. %s (%s)", i+1, s.Candidate.Title, s.Candidate.Kind)
		if s.Candidate.URI != "" {
			line += " - " + s.Candidate.URI
		}
		summary = append(summary, line)
	}

	prompt := fmt.Sprintf(outlinePrompt, req.Topic, requirements, length, strings.Join(summary, "\n"))
	raw, err := w.completer.Complete(ctx, prompt, llm.Params{Temperature: w.temperature, JSON: true})
	if err != nil {
		return domain.Outline{}, err
	}

	var o domain.Outline
	if err := llm.DecodeJSON(raw, &o); err != nil {
		slog.WarnContext(ctx, "unparseable essay outline, using fallback", "error", err)
		return fallbackOutline(req), nil
	}
	if o.Title == "" {
		o.Title = "Research on " + req.Topic
	}
	return o, nil
}

func fallbackOutline(req Request) domain.Outline {
	var titles []string
	for i, s := range req.Sources {
		if i == 5 {
			break
		}
		titles = append(titles, s.Candidate.Title)
	}
	return domain.Outline{
		Title:        "Research on " + req.Topic,
		Introduction: fmt.Sprintf("This essay explores %s based on comprehensive research.", req.Topic),
		MainPoints: []string{
			"Overview of " + req.Topic,
			"Key findings and analysis",
			"Implications and conclusions",
		},
		Conclusion: "Summary of findings on " + req.Topic,
		Sources:    titles,
	}
}

func researchData(sources []Source) string {
	var b strings.Builder
	for i, s := range sources {
		if i == MaxResearchSources {
			break
		}
		excerpt := s.Excerpt
		if r := []rune(excerpt); len(r) > MaxExcerptChars {
			excerpt = string(r[:MaxExcerptChars]) + "..."
		}
		fmt.Fprintf(&b, "Source %d: %s\n", i+1, s.Candidate.Title)
		fmt.Fprintf(&b, "Type: %s\n", s.Candidate.Kind)
		if s.Candidate.URI != "" {
			fmt.Fprintf(&b, "URL: %s\n", s.Candidate.URI)
		}
		fmt.Fprintf(&b, "Content: %s\n", excerpt)
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n\n")
	}
	return b.String()
}

func citations(sources []Source) []domain.Citation {
	out := make([]domain.Citation, 0, len(sources))
	for _, s := range sources {
		out = append(out, domain.Citation{
			SourceID: s.Candidate.SourceID,
			Title:    s.Candidate.Title,
			URI:      s.Candidate.URI,
			Origin:   s.Candidate.Origin,
		})
	}
	return out
}
