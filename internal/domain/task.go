package domain

import "time"

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// State is a workflow state of a research task.
type State string

const (
	StateInit          State = "INIT"
	StateIngestingPDFs State = "INGESTING_PDFS"
	StateSearchingWeb  State = "SEARCHING_WEB"
	StateIndexing      State = "INDEXING"
	StateRetrieving    State = "RETRIEVING"
	StateRanking       State = "RANKING"
	StateWriting       State = "WRITING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

const (
	EssayShort  = "short"
	EssayMedium = "medium"
	EssayLong   = "long"
)

// TaskOptions are per-task overrides. Zero values and nil pointers mean "use
// the configured default".
type TaskOptions struct {
	EnableWebSearch    *bool    `json:"enable_web_search,omitempty"`
	MaxRelevantSources int      `json:"max_relevant_sources,omitempty"`
	RelevanceThreshold *float64 `json:"relevance_threshold,omitempty"`
	EssayLength        string   `json:"essay_length,omitempty"`
	FocusAreas         []string `json:"focus_areas,omitempty"`
}

type PDFInput struct {
	Path        string     `json:"path"`
	Kind        SourceKind `json:"kind"`
	Title       string     `json:"title,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type ResearchTask struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Requirements string            `json:"requirements"`
	Options      TaskOptions       `json:"options"`
	PDFs         []PDFInput        `json:"pdfs"`
	Status       TaskStatus        `json:"status"`
	State        State             `json:"state"`
	LastState    State             `json:"last_state,omitempty"`
	Error        string            `json:"error,omitempty"`
	Transitions  []State           `json:"transitions"`
	Candidates   []RankedCandidate `json:"candidates"`
	Essay        *Essay            `json:"essay,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Reset prepares a failed task for a fresh run from INIT.
func (t *ResearchTask) Reset() {
	t.Status = StatusPending
	t.State = StateInit
	t.LastState = ""
	t.Error = ""
	t.Transitions = nil
	t.Candidates = nil
	t.Essay = nil
}
