package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested batch does not exist.
var ErrNotFound = errors.New("batch record not found")

// BatchStatus mirrors the batch_runs status column.
type BatchStatus string

// Batch statuses persisted in batch_runs.status.
const (
	BatchRunning BatchStatus = "running"
	BatchSuccess BatchStatus = "success"
	BatchError   BatchStatus = "error"
)

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchRunning, BatchSuccess, BatchError:
		return true
	}
	return false
}

// BatchRun models one layer scrape into a page store.
type BatchRun struct {
	ID    uuid.UUID
	Model string
	Layer uint32
	// Total is the number of neurons requested.
	Total int64
	// Fetched, Skipped and Failed accumulate page outcomes.
	Fetched    int64
	Skipped    int64
	Failed     int64
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Status     BatchStatus
	// ErrorMessage optionally stores the failure that ended the batch.
	ErrorMessage *string
}

// Completed is the number of pages that reached the store.
func (r BatchRun) Completed() int64 {
	return r.Fetched + r.Skipped
}

// BatchRepository persists incremental batch progress.
type BatchRepository interface {
	// StartBatch inserts the batch row; repeated calls are no-ops.
	StartBatch(ctx context.Context, id uuid.UUID, model string, layer uint32, total int64, startedAt time.Time) error
	// AddPages applies page outcome deltas.
	AddPages(ctx context.Context, id uuid.UUID, fetched, skipped, failed int64, at time.Time) error
	// CompleteBatch marks the batch finished.
	CompleteBatch(ctx context.Context, id uuid.UUID, finishedAt time.Time, status BatchStatus, errMsg *string) error

	// GetBatch loads a single batch or returns ErrNotFound.
	GetBatch(ctx context.Context, id uuid.UUID) (BatchRun, error)
	// ListBatches returns batches newest first, filtered by optional status.
	ListBatches(ctx context.Context, status *BatchStatus, limit, offset int) ([]BatchRun, error)
}
