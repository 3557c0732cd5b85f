package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extracted is the plain text of one file.
type Extracted struct {
	Text  string
	Title string
	Pages int
}

type Extractor interface {
	Extract(ctx context.Context, path string) (Extracted, error)
}

// SupportedExt reports whether path has an extension the ingester can read.
func SupportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// FileExtractor reads PDFs through PDFExtractor and plain text or markdown as is.
type FileExtractor struct {
	PDF PDFExtractor
}

func (e FileExtractor) Extract(ctx context.Context, path string) (Extracted, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.PDF.Extract(ctx, path)
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Text: string(b), Pages: 1}, nil
	default:
		return Extracted{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// PDFExtractor pulls the text layer out of a PDF page by page. Pages that
// cannot be decoded are skipped.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, path string) (out Extracted, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			out, err = Extracted{}, fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to parse PDF: %w", err)
	}
	defer f.Close()

	out = Extracted{Pages: r.NumPage(), Title: pdfTitle(r)}

	var b strings.Builder
	for i := 1; i <= out.Pages; i++ {
		if err := ctx.Err(); err != nil {
			return Extracted{}, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	out.Text = b.String()
	return out, nil
}

func pdfTitle(r *pdf.Reader) string {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	return strings.TrimSpace(info.Key("Title").Text())
}
