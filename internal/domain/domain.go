package domain

import "time"

type Origin string

const (
	OriginPDF Origin = "pdf"
	OriginWeb Origin = "web"
)

// SourceKind selects the source-type weight used by the ranker.
type SourceKind string

const (
	KindPeerReviewed SourceKind = "peer_reviewed"
	KindPreprint     SourceKind = "preprint"
	KindPDF          SourceKind = "pdf"
	KindWeb          SourceKind = "web"
)

// SourceMeta is the part of a SourceDocument that travels with every chunk
// into the index, so that any indexed source can be ranked later.
type SourceMeta struct {
	ID          string     `json:"id"`
	Origin      Origin     `json:"origin"`
	Kind        SourceKind `json:"kind"`
	URI         string     `json:"uri"`
	Title       string     `json:"title"`
	RetrievedAt time.Time  `json:"retrieved_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SourceDocument is read-only once ingested.
type SourceDocument struct {
	SourceMeta
	RawText string `json:"-"`
}

func (d SourceDocument) Meta() SourceMeta { return d.SourceMeta }

// DocumentChunk is immutable once created by the chunker.
type DocumentChunk struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	Index      int        `json:"index"`
	Text       string     `json:"text"`
	TokenCount int        `json:"token_count"`
	Offset     int        `json:"offset"`
	Embedding  []float32  `json:"-"`
	Source     SourceMeta `json:"source"`
}

type Assessment struct {
	RelevanceScore float64  `json:"relevance_score"`
	Reasoning      string   `json:"reasoning"`
	KeyPoints      []string `json:"key_points"`
	Confidence     float64  `json:"confidence"`
}

type RankedCandidate struct {
	SourceID         string      `json:"source_id"`
	Title            string      `json:"title"`
	URI              string      `json:"uri"`
	Origin           Origin      `json:"origin"`
	Kind             SourceKind  `json:"kind"`
	ChunkIDs         []string    `json:"chunk_ids"`
	SimilarityScore  float64     `json:"similarity_score"`
	SourceTypeWeight float64     `json:"source_type_weight"`
	RecencyWeight    float64     `json:"recency_weight"`
	CompositeScore   float64     `json:"composite_score"`
	Accepted         bool        `json:"accepted"`
	Assessment       *Assessment `json:"assessment,omitempty"`
}

type Citation struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	URI      string `json:"uri"`
	Origin   Origin `json:"origin"`
}

type Outline struct {
	Title        string   `json:"title"`
	Introduction string   `json:"introduction"`
	MainPoints   []string `json:"main_points"`
	Conclusion   string   `json:"conclusion"`
	Sources      []string `json:"sources"`
}

type Validation struct {
	Valid          bool     `json:"valid"`
	LengthOK       bool     `json:"length_ok"`
	TopicCoverage  float64  `json:"topic_coverage"`
	Issues         []string `json:"issues"`
	Recommendation string   `json:"recommendation"`
}

type Essay struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Outline    Outline    `json:"outline"`
	Sources    []Citation `json:"sources"`
	WordCount  int        `json:"word_count"`
	Validation Validation `json:"validation"`
	CreatedAt  time.Time  `json:"created_at"`
}
