package research

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"scholar/internal/domain"
)

const taskColumns = `id, topic, requirements, status, state, last_state, error, options, pdfs, transitions, candidates, essay, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// row holds the encoded JSONB columns of a task. essay stays nil, and is
// stored as NULL, until the task has one.
type row struct {
	options, pdfs, candidates []byte
	essay                     interface{}
}

func encode(t *domain.ResearchTask) (row, error) {
	var (
		r   row
		err error
	)
	if r.options, err = json.Marshal(t.Options); err != nil {
		return r, fmt.Errorf("failed to encode options: %w", err)
	}
	if r.pdfs, err = json.Marshal(t.PDFs); err != nil {
		return r, fmt.Errorf("failed to encode pdfs: %w", err)
	}
	if r.candidates, err = json.Marshal(t.Candidates); err != nil {
		return r, fmt.Errorf("failed to encode candidates: %w", err)
	}
	if t.Essay != nil {
		data, err := json.Marshal(t.Essay)
		if err != nil {
			return r, fmt.Errorf("failed to encode essay: %w", err)
		}
		r.essay = data
	}
	return r, nil
}

func transitionsArray(states []domain.State) interface{} {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func (r *PostgresRepo) Create(ctx context.Context, t *domain.ResearchTask) error {
	enc, err := encode(t)
	if err != nil {
		return err
	}
	query := `INSERT INTO research_tasks (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.Topic, t.Requirements, t.Status, t.State, t.LastState, t.Error,
		enc.options, enc.pdfs, transitionsArray(t.Transitions), enc.candidates, enc.essay,
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, t *domain.ResearchTask) error {
	enc, err := encode(t)
	if err != nil {
		return err
	}
	query := `
		UPDATE research_tasks
		SET status = $2, state = $3, last_state = $4, error = $5, options = $6, pdfs = $7,
			transitions = $8, candidates = $9, essay = $10, updated_at = $11
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		t.ID, t.Status, t.State, t.LastState, t.Error, enc.options, enc.pdfs,
		transitionsArray(t.Transitions), enc.candidates, enc.essay, t.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*domain.ResearchTask, error) {
	var (
		t                                domain.ResearchTask
		options, pdfs, candidates, essay []byte
		transitions                      []string
	)
	err := s.Scan(&t.ID, &t.Topic, &t.Requirements, &t.Status, &t.State, &t.LastState, &t.Error,
		&options, &pdfs, pq.Array(&transitions), &candidates, &essay, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalIfSet(options, &t.Options); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(pdfs, &t.PDFs); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(candidates, &t.Candidates); err != nil {
		return nil, err
	}
	if len(essay) > 0 {
		t.Essay = &domain.Essay{}
		if err := json.Unmarshal(essay, t.Essay); err != nil {
			return nil, err
		}
	}
	t.Transitions = make([]domain.State, len(transitions))
	for i, s := range transitions {
		t.Transitions[i] = domain.State(s)
	}
	return &t, nil
}

func unmarshalIfSet(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*domain.ResearchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM research_tasks WHERE id = $1`
	return scanTask(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context) ([]domain.ResearchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM research_tasks ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.ResearchTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM research_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM research_tasks`).Scan(&count)
	return count, err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
