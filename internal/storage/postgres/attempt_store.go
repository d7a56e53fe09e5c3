// Package postgres persists batch progress in Postgres using pgx.
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

	"github.com/JakeFAU/paperscraper/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table naming.
type Config struct {
	DSN string
	// TablePrefix is prepended to batch_runs, record_outcomes and strategy_attempts.
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Close()
}

type tables struct {
	batches  string
	records  string
	attempts string
}

func newTables(prefix string) (tables, error) {
	t := tables{
		batches:  prefix + "batch_runs",
		records:  prefix + "record_outcomes",
		attempts: prefix + "strategy_attempts",
	}
	for _, name := range []string{t.batches, t.records, t.attempts} {
		if !validTableName.MatchString(name) {
			return tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// AttemptStore implements store.AttemptRepository.
type AttemptStore struct {
	pool   pool
	tables tables
}

var _ store.AttemptRepository = (*AttemptStore)(nil)

// NewAttemptStore connects to Postgres.
func NewAttemptStore(ctx context.Context, cfg Config) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	t, err := newTables(cfg.TablePrefix)
	if err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{pool: p, tables: t}, nil
}

// NewAttemptStoreWithPool wraps an existing pool; used by tests.
func NewAttemptStoreWithPool(p pool, prefix string) (*AttemptStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := newTables(prefix)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: p, tables: t}, nil
}

// Close releases the pool.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *AttemptStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	attempted INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS %[2]s (
	batch_id UUID NOT NULL REFERENCES %[1]s (id),
	record_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL,
	destination TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, record_id)
);
CREATE TABLE IF NOT EXISTS %[3]s (
	batch_id UUID NOT NULL REFERENCES %[1]s (id),
	record_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	priority INTEGER NOT NULL,
	result TEXT NOT NULL,
	error TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[3]s_record_idx ON %[3]s (batch_id, record_id);`,
		s.tables.batches, s.tables.records, s.tables.attempts)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// StartBatch implements store.AttemptRepository.
func (s *AttemptStore) StartBatch(ctx context.Context, batchID uuid.UUID, startedAt time.Time, total int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status, total)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.tables.batches)
	if _, err := s.pool.Exec(ctx, query, batchID, startedAt, store.BatchRunning, total); err != nil {
		return fmt.Errorf("insert batch run: %w", err)
	}
	return nil
}

var attemptColumns = []string{"batch_id", "record_id", "strategy", "priority", "result", "error", "duration_ms", "at"}

// RecordAttempts implements store.AttemptRepository with a single COPY.
func (s *AttemptStore) RecordAttempts(ctx context.Context, attempts []store.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	src := pgx.CopyFromSlice(len(attempts), func(i int) ([]any, error) {
		a := attempts[i]
		return []any{a.BatchID, a.RecordID, a.Strategy, a.Priority, a.Result, a.Error, a.DurationMs, a.At}, nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.tables.attempts}, attemptColumns, src)
	if err != nil {
		return fmt.Errorf("copy attempts: %w", err)
	}
	if int(n) != len(attempts) {
		return fmt.Errorf("copy attempts: wrote %d of %d rows", n, len(attempts))
	}
	return nil
}

// CompleteRecord implements store.AttemptRepository.
func (s *AttemptStore) CompleteRecord(ctx context.Context, o store.RecordOutcome) error {
	query := fmt.Sprintf(`
INSERT INTO %s (batch_id, record_id, title, result, destination, duration_ms, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (batch_id, record_id) DO UPDATE
SET title = EXCLUDED.title, result = EXCLUDED.result, destination = EXCLUDED.destination,
	duration_ms = EXCLUDED.duration_ms, at = EXCLUDED.at`, s.tables.records)
	var dest *string
	if o.Destination != "" {
		dest = &o.Destination
	}
	if _, err := s.pool.Exec(ctx, query, o.BatchID, o.RecordID, o.Title, o.Result, dest, o.DurationMs, o.At); err != nil {
		return fmt.Errorf("upsert record outcome: %w", err)
	}
	return nil
}

// CompleteBatch implements store.AttemptRepository.
func (s *AttemptStore) CompleteBatch(
	ctx context.Context,
	batchID uuid.UUID,
	finishedAt time.Time,
	attempted, succeeded int,
) error {
	query := fmt.Sprintf(`
UPDATE %s SET finished_at = $1, status = $2, attempted = $3, succeeded = $4
WHERE id = $5`, s.tables.batches)
	tag, err := s.pool.Exec(ctx, query, finishedAt, store.BatchDone, attempted, succeeded, batchID)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete batch %s: %w", batchID, store.ErrNotFound)
	}
	return nil
}

// GetBatch implements store.AttemptRepository.
func (s *AttemptStore) GetBatch(ctx context.Context, batchID uuid.UUID) (store.BatchRun, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, total, attempted, succeeded
FROM %s WHERE id = $1`, s.tables.batches)
	run, err := scanBatch(s.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRun{}, store.ErrNotFound
		}
		return store.BatchRun{}, fmt.Errorf("get batch: %w", err)
	}
	return run, nil
}

// ListBatches implements store.AttemptRepository.
func (s *AttemptStore) ListBatches(ctx context.Context, limit, offset int) ([]store.BatchRun, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, total, attempted, succeeded
FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, s.tables.batches)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var runs []store.BatchRun
	for rows.Next() {
		run, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return runs, nil
}

// ListRecords implements store.AttemptRepository.
func (s *AttemptStore) ListRecords(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]store.RecordOutcome, error) {
	query := fmt.Sprintf(`
SELECT batch_id, record_id, title, result, destination, duration_ms, at
FROM %s WHERE batch_id = $1 ORDER BY at ASC LIMIT $2 OFFSET $3`, s.tables.records)
	rows, err := s.pool.Query(ctx, query, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []store.RecordOutcome
	for rows.Next() {
		var (
			o    store.RecordOutcome
			dest *string
		)
		if err := rows.Scan(&o.BatchID, &o.RecordID, &o.Title, &o.Result, &dest, &o.DurationMs, &o.At); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if dest != nil {
			o.Destination = *dest
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// ListAttempts implements store.AttemptRepository.
func (s *AttemptStore) ListAttempts(ctx context.Context, batchID uuid.UUID, recordID string) ([]store.Attempt, error) {
	query := fmt.Sprintf(`
SELECT batch_id, record_id, strategy, priority, result, error, duration_ms, at
FROM %s WHERE batch_id = $1 AND record_id = $2 ORDER BY at ASC`, s.tables.attempts)
	rows, err := s.pool.Query(ctx, query, batchID, recordID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []store.Attempt
	for rows.Next() {
		var a store.Attempt
		if err := rows.Scan(&a.BatchID, &a.RecordID, &a.Strategy, &a.Priority, &a.Result, &a.Error, &a.DurationMs, &a.At); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func scanBatch(row pgx.Row) (store.BatchRun, error) {
	var run store.BatchRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Total, &run.Attempted, &run.Succeeded)
	return run, err
}
