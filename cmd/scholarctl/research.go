package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"scholar/features/research"
	"scholar/internal/app"
	"scholar/internal/config"
	"scholar/internal/domain"
	"scholar/internal/essay"
	"scholar/internal/index"
	"scholar/internal/logger"
	"scholar/internal/metrics"
	"scholar/internal/retrieval"
	"scholar/internal/settings"
)

type researchOptions struct {
	topic        string
	requirements string
	pdfs         []string
	kind         string
	length       string
	threshold    float64
	thresholdSet bool
	maxSources   int
	out          string
	noWeb        bool
	verbose      bool
}

func newResearchCmd() *cobra.Command {
	var o researchOptions
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Research a topic and write an essay",
		Long: `Research a topic and write an essay.

Examples:
  # Essay from two papers, no web search
  scholarctl research --topic "tidal power" --pdf a.pdf --pdf b.pdf:peer_reviewed --no-web

  # Markdown essay with web sources
  scholarctl research --topic "solar sails" --requirements "Short essay for students" --output essay.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			o.thresholdSet = cmd.Flags().Changed("threshold")
			return runResearch(ctx, o, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.topic, "topic", "", "research topic")
	f.StringVar(&o.requirements, "requirements", "", "free-form essay requirements")
	f.StringArrayVar(&o.pdfs, "pdf", nil, "local document to ingest as path[:kind] (repeatable)")
	f.StringVar(&o.kind, "kind", string(domain.KindPDF), "source kind of documents given without one")
	f.StringVar(&o.length, "length", "", "essay length: short, medium or long")
	f.Float64Var(&o.threshold, "threshold", 0, "relevance threshold in [0,1]; unset uses the configured default")
	f.IntVar(&o.maxSources, "max-sources", 0, "maximum accepted sources; 0 uses the configured default")
	f.StringVarP(&o.out, "output", "o", "", "output file; the extension selects txt, md or json")
	f.BoolVar(&o.noWeb, "no-web", false, "disable web search")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runResearch(ctx context.Context, o researchOptions, stdout io.Writer) error {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(logger.New(os.Stderr, level))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.noWeb {
		cfg.EnableWebSearch = false
	}

	settingsService := settings.NewService(settings.NewMemoryRepo(settings.Settings{
		ID:                 1,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		RelevanceThreshold: cfg.RelevanceThreshold,
		MaxRelevantSources: cfg.MaxRelevantSources,
		WeightSimilarity:   cfg.WeightSimilarity,
		WeightSourceType:   cfg.WeightSourceType,
		WeightRecency:      cfg.WeightRecency,
		EnableWebSearch:    cfg.EnableWebSearch,
	}))
	embedder, completer := app.NewModels(cfg, settingsService)

	idx := index.NewLinear()
	repo := research.NewMemoryRepo()
	engine, err := app.NewEngine(cfg, app.Pipeline{
		Store:     repo,
		Settings:  settingsService,
		Index:     idx,
		Retriever: retrieval.NewService(embedder, idx, retrieval.NewQueryLogger(io.Discard)),
		Embedder:  embedder,
		Completer: completer,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		return err
	}

	pdfs := make([]domain.PDFInput, 0, len(o.pdfs))
	for _, arg := range o.pdfs {
		in, err := parsePDFArg(arg, domain.SourceKind(o.kind))
		if err != nil {
			return err
		}
		pdfs = append(pdfs, in)
	}

	opts := domain.TaskOptions{
		EssayLength:        o.length,
		MaxRelevantSources: o.maxSources,
	}
	if o.thresholdSet {
		opts.RelevanceThreshold = &o.threshold
	}
	if o.noWeb {
		off := false
		opts.EnableWebSearch = &off
	}

	svc := research.NewService(repo, nil)
	task, err := svc.Create(ctx, o.topic, o.requirements, opts, pdfs)
	if err != nil {
		return err
	}
	if err := engine.Run(ctx, task.ID); err != nil {
		return err
	}

	st, err := svc.Status(ctx, task.ID)
	if err != nil {
		return err
	}
	if st.Status == domain.StatusFailed {
		return fmt.Errorf("research failed after %s: %s", st.LastState, st.Error)
	}

	e, err := svc.Result(ctx, task.ID)
	if err != nil {
		return err
	}
	return writeEssay(e, o.out, stdout)
}

// parsePDFArg reads "path" or "path:kind". A suffix that is not a known
// source kind is part of the path.
func parsePDFArg(arg string, fallback domain.SourceKind) (domain.PDFInput, error) {
	path, kind := arg, fallback
	if i := strings.LastIndex(arg, ":"); i > 0 {
		switch k := domain.SourceKind(arg[i+1:]); k {
		case domain.KindPDF, domain.KindPeerReviewed, domain.KindPreprint, domain.KindWeb:
			path, kind = arg[:i], k
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.PDFInput{}, err
	}
	return domain.PDFInput{
		Path:  abs,
		Kind:  kind,
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}, nil
}

func writeEssay(e *domain.Essay, out string, stdout io.Writer) error {
	format := essay.FormatTXT
	if out != "" {
		format = essay.FormatFromPath(out)
	}
	body, err := essay.Render(e, format)
	if err != nil {
		return err
	}
	if out == "" {
		_, err = stdout.Write(body)
		return err
	}
	if err := os.WriteFile(out, body, 0o600); err != nil {
		return err
	}
	slog.Info("essay written", "path", out, "format", format, "words", e.WordCount)
	return nil
}
