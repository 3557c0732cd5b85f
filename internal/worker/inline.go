package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"scholar/internal/config"
)

// InlinePublisher stands in for the NSQ producer when no broker is
// configured. Run messages are processed on their own goroutine in this
// process.
type InlinePublisher struct {
	consumer *RunConsumer
	wg       sync.WaitGroup
}

func NewInlinePublisher(c *RunConsumer) *InlinePublisher {
	return &InlinePublisher{consumer: c}
}

func (p *InlinePublisher) Publish(topic string, body []byte) error {
	if topic != config.TopicResearchRun {
		return fmt.Errorf("inline publisher: unknown topic %q", topic)
	}
	msg := make([]byte, len(body))
	copy(msg, body)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.consumer.Process(context.Background(), msg); err != nil {
			slog.Error("inline research run failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until every published run has finished.
func (p *InlinePublisher) Wait() {
	p.wg.Wait()
}
