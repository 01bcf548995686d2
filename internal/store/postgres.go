// Package store provides Postgres-backed persistence for sync tokens, the
// change outbox, and run records.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
)

// Store bundles the token, outbox, and run tables behind one pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the continuation token for a data type, if one exists.
func (s *Store) Get(ctx context.Context, dt domain.DataType) (string, bool, error) {
	const query = `SELECT token FROM sync_tokens WHERE data_type = $1`

	var token string
	err := s.pool.QueryRow(ctx, query, string(dt)).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Set stores or replaces the token for a data type. The upsert is a single
// statement, so a partially written token is never observable.
func (s *Store) Set(ctx context.Context, dt domain.DataType, token string) error {
	const stmt = `INSERT INTO sync_tokens (data_type, token, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (data_type) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, stmt, string(dt), token)
	return err
}

// Clear removes the token for a data type, forcing the next run onto the
// backfill path.
func (s *Store) Clear(ctx context.Context, dt domain.DataType) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_tokens WHERE data_type = $1`, string(dt))
	return err
}

// Append queues a batch of outbox entries inside a single transaction: the
// whole page is durable or none of it is.
func (s *Store) Append(ctx context.Context, entries []domain.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO outbox (source_id, data_type, op, record_date, payload)
        VALUES ($1, $2, $3, $4, $5)`

	for _, entry := range entries {
		payload := entry.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		if _, err = tx.Exec(ctx, stmt,
			entry.SourceID,
			string(entry.DataType),
			string(entry.Op),
			entry.RecordDate.UTC(),
			payload,
		); err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// Drain returns up to limit pending entries, FIFO by insertion order.
func (s *Store) Drain(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	const query = `SELECT entry_id, source_id, data_type, op, record_date, payload, created_at
        FROM outbox
        ORDER BY entry_id
        LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.OutboxEntry, 0, limit)
	for rows.Next() {
		var entry domain.OutboxEntry
		var dt, op string
		if err := rows.Scan(&entry.ID, &entry.SourceID, &dt, &op, &entry.RecordDate, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.DataType = domain.DataType(dt)
		entry.Op = domain.Operation(op)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes delivered entries.
func (s *Store) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox WHERE entry_id = ANY($1)`, ids)
	return err
}

// PendingCount reports how many entries remain queued.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count)
	return count, err
}

// RecordRun persists the run report as the latest sync run.
func (s *Store) RecordRun(ctx context.Context, report domain.RunReport) error {
	results, err := json.Marshal(report.Results)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO sync_runs (run_id, started_at, finished_at, retry, results)
        VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, stmt,
		report.RunID,
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
		report.Retry,
		results,
	)
	return err
}

// LastRun returns the most recent run record, or nil when none exists.
func (s *Store) LastRun(ctx context.Context) (*domain.RunReport, error) {
	const query = `SELECT run_id, started_at, finished_at, retry, results
        FROM sync_runs
        ORDER BY started_at DESC, run_id DESC
        LIMIT 1`

	var report domain.RunReport
	var results []byte
	err := s.pool.QueryRow(ctx, query).Scan(&report.RunID, &report.StartedAt, &report.FinishedAt, &report.Retry, &results)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(results, &report.Results); err != nil {
		return nil, err
	}
	return &report, nil
}

var _ domain.TokenStore = (*Store)(nil)
var _ domain.OutboxStore = (*Store)(nil)
var _ domain.RunStore = (*Store)(nil)

// WaitReady pings the database until it responds or the deadline passes.
func WaitReady(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := pool.Ping(ctx); err == nil {
			return nil
		} else if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
