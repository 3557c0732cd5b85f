package job

import (
	"encoding/json"
	"time"
)

// Job is a research run that failed or could not be processed. Payload is
// the original run message, so a retry republishes it unchanged.
type Job struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
