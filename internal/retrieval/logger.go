package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scholar/internal/middleware"
)

// QueryLogEntry is one line of the JSON-lines query log.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Kind          string        `json:"kind"`
	Query         string        `json:"query"`
	K             int           `json:"k"`
	NumResults    int           `json:"num_results"`
	NumSources    int           `json:"num_sources,omitempty"`
	Index         string        `json:"index"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	TaskID        string        `json:"task_id,omitempty"`
}

type QueryLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{writer: w}
}

// NewFileQueryLogger appends to path, creating its directory when needed.
func NewFileQueryLogger(path string) (*QueryLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, nil, err
	}
	return NewQueryLogger(f), f, nil
}

// Log stamps the entry with the time and the request ids carried by ctx.
func (l *QueryLogger) Log(ctx context.Context, entry QueryLogEntry) {
	if l == nil {
		return
	}
	entry.Timestamp = time.Now()
	entry.LatencyMs = entry.Duration.Milliseconds()
	if id := middleware.GetCorrelationID(ctx); id != "unknown" {
		entry.CorrelationID = id
	}
	entry.TaskID = middleware.GetTaskID(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}
