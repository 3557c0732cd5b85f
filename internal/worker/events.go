package worker

// RunMessage asks a worker to execute a research task.
type RunMessage struct {
	TaskID        string `json:"task_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
