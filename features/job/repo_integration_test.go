package job_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/features/job"
	"scholar/features/research"
	"scholar/internal/domain"
	"scholar/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	jobRepo := job.NewPostgresRepo(s.DB)
	taskRepo := research.NewPostgresRepo(s.DB)
	ctx := context.Background()

	now := time.Now().UTC()
	task := &domain.ResearchTask{
		ID:          uuid.New().String(),
		Topic:       "job test",
		Status:      domain.StatusFailed,
		State:       domain.StateFailed,
		PDFs:        []domain.PDFInput{},
		Transitions: []domain.State{},
		Candidates:  []domain.RankedCandidate{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, taskRepo.Create(ctx, task))

	j1 := &job.Job{TaskID: task.ID, Handler: "run_consumer", Payload: json.RawMessage(`{"data": 1}`), Error: "error 1"}
	require.NoError(t, jobRepo.Save(ctx, j1))

	time.Sleep(100 * time.Millisecond)

	j2 := &job.Job{Handler: "run_consumer", Payload: json.RawMessage(`{"data": 2}`), Error: "poison message"}
	require.NoError(t, jobRepo.Save(ctx, j2))

	jobs, err := jobRepo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, j2.ID, jobs[0].ID, "Newest job should be first")
	assert.Empty(t, jobs[0].TaskID)
	assert.Equal(t, task.ID, jobs[1].TaskID)

	// Deleting the task cascades to its jobs.
	require.NoError(t, taskRepo.Delete(ctx, task.ID))

	count, err := jobRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
