package research_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/features/research"
	"scholar/internal/domain"
)

var columns = []string{"id", "topic", "requirements", "status", "state", "last_state", "error",
	"options", "pdfs", "transitions", "candidates", "essay", "created_at", "updated_at"}

func TestPostgresRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := research.NewPostgresRepo(db)
	now := time.Now().UTC()
	task := &domain.ResearchTask{
		ID:          "t1",
		Topic:       "solar energy",
		Status:      domain.StatusPending,
		State:       domain.StateInit,
		PDFs:        []domain.PDFInput{{Path: "a.pdf", Kind: domain.KindPDF}},
		Transitions: []domain.State{},
		Candidates:  []domain.RankedCandidate{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_tasks (id, topic, requirements")).
		WithArgs("t1", "solar energy", "", domain.StatusPending, domain.StateInit, domain.State(""), "",
			[]byte(`{}`), []byte(`[{"path":"a.pdf","kind":"pdf"}]`), sqlmock.AnyArg(), []byte(`[]`), nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := research.NewPostgresRepo(db)
	task := &domain.ResearchTask{ID: "t1", Status: domain.StatusRunning, State: domain.StateIndexing}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE research_tasks")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(context.Background(), task))
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE research_tasks")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(context.Background(), task), sql.ErrNoRows)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := research.NewPostgresRepo(db)
	now := time.Now().UTC()

	t.Run("DecodesJSONColumns", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).AddRow(
			"t1", "solar energy", "short", "completed", "DONE", "", "",
			[]byte(`{"essay_length":"short"}`),
			[]byte(`[]`),
			"{INIT,INGESTING_PDFS,INDEXING,RETRIEVING,RANKING,WRITING,DONE}",
			[]byte(`[{"source_id":"s1","composite_score":0.82,"accepted":true}]`),
			[]byte(`{"id":"e1","title":"The Sun","word_count":3}`),
			now, now)
		mock.ExpectQuery(regexp.QuoteMeta("FROM research_tasks WHERE id = $1")).
			WithArgs("t1").
			WillReturnRows(rows)

		task, err := repo.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, task.Status)
		assert.Equal(t, "short", task.Options.EssayLength)
		assert.Len(t, task.Transitions, 7)
		assert.Equal(t, domain.StateDone, task.Transitions[6])
		require.Len(t, task.Candidates, 1)
		assert.InDelta(t, 0.82, task.Candidates[0].CompositeScore, 1e-9)
		require.NotNil(t, task.Essay)
		assert.Equal(t, "The Sun", task.Essay.Title)
	})

	t.Run("NullEssay", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).AddRow(
			"t2", "x", "", "pending", "INIT", "", "",
			[]byte(`{}`), []byte(`[]`), "{}", []byte(`[]`), nil, now, now)
		mock.ExpectQuery(regexp.QuoteMeta("FROM research_tasks WHERE id = $1")).
			WithArgs("t2").
			WillReturnRows(rows)

		task, err := repo.Get(context.Background(), "t2")
		require.NoError(t, err)
		assert.Nil(t, task.Essay)
		assert.Empty(t, task.Transitions)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM research_tasks WHERE id = $1")).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPostgresRepo_DeleteAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := research.NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_tasks WHERE id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Delete(context.Background(), "t1"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_tasks WHERE id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "t1"), sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM research_tasks")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
