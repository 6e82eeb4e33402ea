// Package postgres provides Postgres-backed persistence for batch progress.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/neuronav/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for batch rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// BatchStore implements store.BatchRepository on Postgres.
type BatchStore struct {
	pool  querier
	table string
}

var _ store.BatchRepository = (*BatchStore)(nil)

// NewBatchStore connects to Postgres using cfg.
func NewBatchStore(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("progress.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewBatchStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewBatchStoreWithPool wraps an existing pool; tests pass a pgxmock pool.
func NewBatchStoreWithPool(pool querier, table string) (*BatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "batch_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BatchStore{pool: pool, table: table}, nil
}

// Close releases the pool.
func (s *BatchStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the batch table when missing.
func (s *BatchStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            UUID PRIMARY KEY,
			model         TEXT        NOT NULL,
			layer         BIGINT      NOT NULL,
			total         BIGINT      NOT NULL,
			fetched       BIGINT      NOT NULL DEFAULT 0,
			skipped       BIGINT      NOT NULL DEFAULT 0,
			failed        BIGINT      NOT NULL DEFAULT 0,
			started_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			status        TEXT        NOT NULL,
			error_message TEXT
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartBatch inserts a running batch row.
func (s *BatchStore) StartBatch(
	ctx context.Context,
	id uuid.UUID,
	model string,
	layer uint32,
	total int64,
	startedAt time.Time,
) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, model, layer, total, started_at, updated_at, status)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (id) DO NOTHING;`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, model, int64(layer), total, startedAt, string(store.BatchRunning)); err != nil {
		return fmt.Errorf("insert batch start: %w", err)
	}
	return nil
}

// AddPages applies outcome deltas to a batch.
func (s *BatchStore) AddPages(ctx context.Context, id uuid.UUID, fetched, skipped, failed int64, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET fetched = fetched + $1, skipped = skipped + $2, failed = failed + $3, updated_at = $4
		WHERE id = $5;`, s.table)
	tag, err := s.pool.Exec(ctx, query, fetched, skipped, failed, at, id)
	if err != nil {
		return fmt.Errorf("update batch pages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteBatch marks a batch finished with status and an optional message.
func (s *BatchStore) CompleteBatch(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.BatchStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, updated_at = $1, status = $2, error_message = $3
		WHERE id = $4;`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const batchColumns = `id, model, layer, total, fetched, skipped, failed, started_at, updated_at, finished_at, status, error_message`

// GetBatch loads one batch by id.
func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (store.BatchRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1;`, batchColumns, s.table)
	run, err := scanBatch(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRun{}, store.ErrNotFound
		}
		return store.BatchRun{}, fmt.Errorf("get batch: %w", err)
	}
	return run, nil
}

// ListBatches returns batches newest first.
func (s *BatchStore) ListBatches(
	ctx context.Context,
	status *store.BatchStatus,
	limit,
	offset int,
) ([]store.BatchRun, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, batchColumns, s.table)
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	runs := []store.BatchRun{}
	for rows.Next() {
		run, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return runs, nil
}

func scanBatch(row pgx.Row) (store.BatchRun, error) {
	var (
		run    store.BatchRun
		layer  int64
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Model,
		&layer,
		&run.Total,
		&run.Fetched,
		&run.Skipped,
		&run.Failed,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.BatchRun{}, err
	}
	run.Layer = uint32(layer) //nolint:gosec // written from a uint32
	run.Status = store.BatchStatus(status)
	return run, nil
}
