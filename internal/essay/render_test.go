package essay_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/essay"
)

func sampleEssay() *domain.Essay {
	return &domain.Essay{
		ID:        "e-1",
		Title:     "The Sun Economy",
		Content:   "Solar power is cheap.",
		WordCount: 4,
		CreatedAt: time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC),
		Sources: []domain.Citation{
			{SourceID: "pdf-1", Title: "Photovoltaic Efficiency", URI: "/papers/pv.pdf", Origin: domain.OriginPDF},
			{SourceID: "web-2", Title: "Grid Storage", URI: "https://example.org/storage", Origin: domain.OriginWeb},
		},
	}
}

func TestRender_Text(t *testing.T) {
	out, err := essay.Render(sampleEssay(), essay.FormatTXT)
	require.NoError(t, err)

	rule := strings.Repeat("=", 50)
	want := "Title: The Sun Economy\n" +
		"Word Count: 4\n" +
		"Sources: 2\n" +
		"Created: 2024-03-09 14:05:06\n" +
		rule + "\n\n" +
		"Solar power is cheap.\n\n" +
		rule + "\n" +
		"SOURCES:\n" +
		"1. Photovoltaic Efficiency (pdf)\n" +
		"   File: /papers/pv.pdf\n\n" +
		"2. Grid Storage (web)\n" +
		"   URL: https://example.org/storage\n\n"
	assert.Equal(t, want, string(out))
}

func TestRender_Markdown(t *testing.T) {
	out, err := essay.Render(sampleEssay(), essay.FormatMD)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "# The Sun Economy\n"))
	assert.Contains(t, s, "- **Word Count:** 4")
	assert.Contains(t, s, "## Sources")
	assert.Contains(t, s, "1. Photovoltaic Efficiency (pdf)")
	assert.Contains(t, s, "2. [Grid Storage](https://example.org/storage) (web)")
}

func TestRender_JSON(t *testing.T) {
	out, err := essay.Render(sampleEssay(), essay.FormatJSON)
	require.NoError(t, err)

	var got domain.Essay
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "The Sun Economy", got.Title)
	assert.Len(t, got.Sources, 2)
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := essay.Render(sampleEssay(), "docx")
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, essay.FormatMD, essay.FormatFromPath("out/essay.MD"))
	assert.Equal(t, essay.FormatJSON, essay.FormatFromPath("essay.json"))
	assert.Equal(t, essay.FormatTXT, essay.FormatFromPath("essay.txt"))
	assert.Equal(t, essay.FormatTXT, essay.FormatFromPath("essay"))
	assert.Equal(t, "application/json", essay.ContentType(essay.FormatJSON))
}
