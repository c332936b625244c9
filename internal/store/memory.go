package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu    sync.Mutex
	runs  map[string]Run
	order []string
}

func NewMemory() *Memory {
	return &Memory{runs: map[string]Run{}}
}

func (m *Memory) SaveRun(ctx context.Context, run Run) (Run, error) {
	prepare(&run)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (m *Memory) ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if cursor != "" {
		start = -1
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, "", ErrNotFound
		}
	}
	out := []Run{}
	for _, id := range m.order[start:] {
		if len(out) == limit {
			break
		}
		out = append(out, m.runs[id])
	}
	var next string
	if len(out) == limit && start+limit < len(m.order) {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) Close() error { return nil }

func prepare(run *Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
}
