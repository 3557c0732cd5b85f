package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/features/research"
	"scholar/internal/config"
	"scholar/internal/domain"
	"scholar/internal/testutils"
	"scholar/internal/worker"
)

func TestRunTopicRouting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	svc := research.NewService(research.NewPostgresRepo(s.DB), s.NSQ)

	runChan := make(chan *nsq.Message, 1)
	consumer, err := nsq.NewConsumer(config.TopicResearchRun, "test-ch-run", nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		runChan <- m
		return nil
	}))
	require.NoError(t, consumer.ConnectToNSQD(s.NSQDAddr))
	defer consumer.Stop()

	task, err := svc.Create(ctx, "topic routing", "", domain.TaskOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx, task.ID))

	select {
	case msg := <-runChan:
		var payload worker.RunMessage
		require.NoError(t, json.Unmarshal(msg.Body, &payload))
		assert.Equal(t, task.ID, payload.TaskID)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for research.run message")
	}
}
