package text

import (
	"fmt"
	"regexp"
	"strings"

	"scholar/internal/apperr"
	"scholar/internal/domain"
)

const (
	DefaultMaxTokens = 1000
	DefaultOverlap   = 200
)

// A token is a run of non-space characters plus the whitespace that follows it.
// Leading whitespace of the whole text forms its own token, so joining every
// token returns the input unchanged.
var tokenRe = regexp.MustCompile(`^\s+|\S+\s*`)

func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return tokenRe.FindAllString(text, -1)
}

// Chunker splits text into overlapping token windows.
type Chunker struct {
	maxTokens int
	overlap   int
}

func NewChunker(maxTokens, overlap int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, apperr.Configf("max tokens per chunk must be positive, got %d", maxTokens)
	}
	if overlap < 0 {
		return nil, apperr.Configf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= maxTokens {
		return nil, apperr.Configf("chunk overlap %d must be smaller than max tokens per chunk %d", overlap, maxTokens)
	}
	return &Chunker{maxTokens: maxTokens, overlap: overlap}, nil
}

func (c *Chunker) MaxTokens() int { return c.maxTokens }
func (c *Chunker) Overlap() int   { return c.overlap }

// Chunk walks a window of maxTokens over the token sequence, advancing by
// maxTokens-overlap. The last window may be shorter. Empty text yields no chunks.
func (c *Chunker) Chunk(sourceID, text string) []domain.DocumentChunk {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.maxTokens - c.overlap
	var chunks []domain.DocumentChunk
	for start := 0; ; start += step {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, domain.DocumentChunk{
			ID:         fmt.Sprintf("%s:%d", sourceID, len(chunks)),
			SourceID:   sourceID,
			Index:      len(chunks),
			Text:       strings.Join(tokens[start:end], ""),
			TokenCount: end - start,
			Offset:     start,
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// ChunkDocument chunks the raw text of doc and stamps its metadata on every chunk.
func (c *Chunker) ChunkDocument(doc domain.SourceDocument) []domain.DocumentChunk {
	chunks := c.Chunk(doc.ID, doc.RawText)
	meta := doc.Meta()
	for i := range chunks {
		chunks[i].Source = meta
	}
	return chunks
}

// Join rebuilds the source text from ordered chunks of one source, dropping
// the tokens each chunk shares with its predecessor.
func Join(chunks []domain.DocumentChunk) string {
	var b strings.Builder
	covered := 0
	for _, ch := range chunks {
		tokens := Tokenize(ch.Text)
		skip := covered - ch.Offset
		if skip < 0 {
			skip = 0
		}
		if skip > len(tokens) {
			skip = len(tokens)
		}
		for _, tok := range tokens[skip:] {
			b.WriteString(tok)
		}
		if end := ch.Offset + len(tokens); end > covered {
			covered = end
		}
	}
	return b.String()
}
