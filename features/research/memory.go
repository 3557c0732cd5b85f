package research

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"scholar/internal/domain"
)

// MemoryRepo keeps tasks in process. It backs the CLI and inline deployments
// without a database. Stored tasks are copied in and out.
type MemoryRepo struct {
	mu    sync.RWMutex
	tasks map[string][]byte
	order []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tasks: make(map[string][]byte)}
}

func (r *MemoryRepo) Create(ctx context.Context, t *domain.ResearchTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	r.tasks[t.ID] = data
	r.order = append(r.order, t.ID)
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, t *domain.ResearchTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return sql.ErrNoRows
	}
	r.tasks[t.ID] = data
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*domain.ResearchTask, error) {
	r.mu.RLock()
	data, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	var t domain.ResearchTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns the newest task first, like the Postgres repository.
func (r *MemoryRepo) List(ctx context.Context) ([]domain.ResearchTask, error) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]domain.ResearchTask, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		t, err := r.Get(ctx, ids[i])
		if err != nil {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.tasks, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks), nil
}
