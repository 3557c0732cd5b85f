package essay

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"scholar/internal/apperr"
	"scholar/internal/domain"
)

const (
	FormatTXT  = "txt"
	FormatMD   = "md"
	FormatJSON = "json"
)

// FormatFromPath detects the output format from a file extension, defaulting to txt.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMD
	case ".json":
		return FormatJSON
	}
	return FormatTXT
}

// ContentType returns the MIME type of a rendered format.
func ContentType(format string) string {
	switch format {
	case FormatMD:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Render writes e in the given format.
func Render(e *domain.Essay, format string) ([]byte, error) {
	switch format {
	case FormatTXT, "":
		return []byte(renderText(e)), nil
	case FormatMD:
		return []byte(renderMarkdown(e)), nil
	case FormatJSON:
		return json.MarshalIndent(e, "", "  ")
	}
	return nil, apperr.Configf("unsupported essay format %q", format)
}

func renderText(e *domain.Essay) string {
	rule := strings.Repeat("=", 50)

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", e.Title)
	fmt.Fprintf(&b, "Word Count: %d\n", e.WordCount)
	fmt.Fprintf(&b, "Sources: %d\n", len(e.Sources))
	fmt.Fprintf(&b, "Created: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(rule + "\n\n")
	b.WriteString(e.Content)
	b.WriteString("\n\n" + rule + "\n")

	if len(e.Sources) > 0 {
		b.WriteString("SOURCES:\n")
		for i, s := range e.Sources {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Title, s.Origin)
			switch {
			case s.URI == "":
			case s.Origin == domain.OriginPDF:
				fmt.Fprintf(&b, "   File: %s\n", s.URI)
			default:
				fmt.Fprintf(&b, "   URL: %s\n", s.URI)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderMarkdown(e *domain.Essay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.Title)
	fmt.Fprintf(&b, "- **Word Count:** %d\n", e.WordCount)
	fmt.Fprintf(&b, "- **Sources:** %d\n", len(e.Sources))
	fmt.Fprintf(&b, "- **Created:** %s\n\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(e.Content)
	b.WriteString("\n")

	if len(e.Sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for i, s := range e.Sources {
			if s.URI != "" && s.Origin == domain.OriginWeb {
				fmt.Fprintf(&b, "%d. [%s](%s) (%s)\n", i+1, s.Title, s.URI, s.Origin)
			} else {
				fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Title, s.Origin)
			}
		}
	}
	return b.String()
}
