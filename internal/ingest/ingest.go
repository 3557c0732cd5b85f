package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/text"
)

const DefaultConcurrency = 8

var errNoText = errors.New("no extractable text")

// Result holds what survived ingestion. Failed lists the documents that were
// dropped, each as a *apperr.PartialIngestionError.
type Result struct {
	Documents []domain.SourceDocument
	Chunks    []domain.DocumentChunk
	Failed    []error
}

type Ingester struct {
	extractor   Extractor
	chunker     *text.Chunker
	concurrency int
	now         func() time.Time
}

func New(extractor Extractor, chunker *text.Chunker, concurrency int) *Ingester {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Ingester{extractor: extractor, chunker: chunker, concurrency: concurrency, now: time.Now}
}

// SourceID derives a stable id from a file path so the same file always
// maps to the same chunk ids.
func SourceID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "pdf-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
}

// Expand replaces directory inputs by the supported files below them, in
// lexical order. File inputs pass through unchanged. Unreadable entries are
// logged and skipped; a directory that cannot be read at all is kept as is,
// so ingestion reports it as a dropped document.
func Expand(ctx context.Context, inputs []domain.PDFInput) []domain.PDFInput {
	var out []domain.PDFInput
	for _, in := range inputs {
		info, err := os.Stat(in.Path)
		if err != nil || !info.IsDir() {
			out = append(out, in)
			continue
		}

		files, err := supportedFiles(ctx, os.DirFS(in.Path))
		if err != nil {
			slog.WarnContext(ctx, "failed to read document directory", "dir", in.Path, "error", err)
			if len(files) == 0 {
				out = append(out, in)
				continue
			}
		}
		for _, f := range files {
			out = append(out, domain.PDFInput{
				Path:        filepath.Join(in.Path, filepath.FromSlash(f)),
				Kind:        in.Kind,
				PublishedAt: in.PublishedAt,
			})
		}
	}
	return out
}

// supportedFiles walks fsys and returns the slash-separated paths of the
// files Extract can read, sorted.
func supportedFiles(ctx context.Context, fsys fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == "." {
				return err
			}
			slog.WarnContext(ctx, "skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() && SupportedExt(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Ingest extracts and chunks every input concurrently. A document that fails
// is logged and dropped; the rest keep input order, and each document's
// chunks keep their order.
func (i *Ingester) Ingest(ctx context.Context, inputs []domain.PDFInput) (Result, error) {
	inputs = Expand(ctx, inputs)

	docs := make([]*domain.SourceDocument, len(inputs))
	chunks := make([][]domain.DocumentChunk, len(inputs))
	failed := make([]error, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, in := range inputs {
		g.Go(func() error {
			doc, err := i.ingestOne(gctx, in)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed[n] = &apperr.PartialIngestionError{SourceID: in.Path, Err: err}
				slog.WarnContext(gctx, "document dropped", "path", in.Path, "error", err)
				return nil
			}
			docs[n] = &doc
			chunks[n] = i.chunker.ChunkDocument(doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	for n := range inputs {
		if failed[n] != nil {
			res.Failed = append(res.Failed, failed[n])
			continue
		}
		res.Documents = append(res.Documents, *docs[n])
		res.Chunks = append(res.Chunks, chunks[n]...)
	}
	return res, nil
}

func (i *Ingester) ingestOne(ctx context.Context, in domain.PDFInput) (domain.SourceDocument, error) {
	ex, err := i.extractor.Extract(ctx, in.Path)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	if strings.TrimSpace(ex.Text) == "" {
		return domain.SourceDocument{}, errNoText
	}

	title := in.Title
	if title == "" {
		title = ex.Title
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	}

	kind := in.Kind
	if kind == "" {
		kind = domain.KindPDF
	}

	return domain.SourceDocument{
		SourceMeta: domain.SourceMeta{
			ID:          SourceID(in.Path),
			Origin:      domain.OriginPDF,
			Kind:        kind,
			URI:         in.Path,
			Title:       title,
			RetrievedAt: i.now().UTC(),
			PublishedAt: in.PublishedAt,
		},
		RawText: ex.Text,
	}, nil
}
