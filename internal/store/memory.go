package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a BatchRepository held in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*BatchRun
}

var _ BatchRepository = (*Memory)(nil)

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID]*BatchRun)}
}

// StartBatch implements BatchRepository.
func (m *Memory) StartBatch(_ context.Context, id uuid.UUID, model string, layer uint32, total int64, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; ok {
		return nil
	}
	m.runs[id] = &BatchRun{
		ID:        id,
		Model:     model,
		Layer:     layer,
		Total:     total,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
		Status:    BatchRunning,
	}
	return nil
}

// AddPages implements BatchRepository.
func (m *Memory) AddPages(_ context.Context, id uuid.UUID, fetched, skipped, failed int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Fetched += fetched
	run.Skipped += skipped
	run.Failed += failed
	run.UpdatedAt = at
	return nil
}

// CompleteBatch implements BatchRepository.
func (m *Memory) CompleteBatch(_ context.Context, id uuid.UUID, finishedAt time.Time, status BatchStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.UpdatedAt = finishedAt
	run.Status = status
	run.ErrorMessage = errMsg
	return nil
}

// GetBatch implements BatchRepository.
func (m *Memory) GetBatch(_ context.Context, id uuid.UUID) (BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return BatchRun{}, ErrNotFound
	}
	return *run, nil
}

// ListBatches implements BatchRepository.
func (m *Memory) ListBatches(_ context.Context, status *BatchStatus, limit, offset int) ([]BatchRun, error) {
	m.mu.RLock()
	runs := make([]BatchRun, 0, len(m.runs))
	for _, run := range m.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, *run)
	}
	m.mu.RUnlock()

	slices.SortFunc(runs, func(a, b BatchRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if offset >= len(runs) {
		return []BatchRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
