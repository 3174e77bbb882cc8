package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is an in-process Repository. Runs are stored as encoded
// copies so callers cannot mutate stored state.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string][]byte)}
}

func (m *MemoryRepository) SaveRun(ctx context.Context, run *ElectionRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validating run: %w", err)
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return ErrDuplicate
	}
	m.runs[run.ID] = raw
	return nil
}

func (m *MemoryRepository) GetRun(ctx context.Context, id string) (*ElectionRun, error) {
	m.mu.RLock()
	raw, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRun(raw)
}

func (m *MemoryRepository) ListRuns(ctx context.Context, filter RunFilter) ([]*ElectionRun, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	runs := make([]*ElectionRun, 0, len(m.runs))
	for _, raw := range m.runs {
		run, err := decodeRun(raw)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if filter.matches(run) {
			runs = append(runs, run)
		}
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})

	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (m *MemoryRepository) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	return nil
}

func decodeRun(raw []byte) (*ElectionRun, error) {
	run := &ElectionRun{}
	if err := json.Unmarshal(raw, run); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return run, nil
}
