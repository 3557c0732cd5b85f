package config

const (
	// TopicResearchRun carries task ids whose workflow should be executed.
	TopicResearchRun = "research.run"

	// ChannelRunWorker is the consumer channel of the run worker.
	ChannelRunWorker = "scholar"
)
