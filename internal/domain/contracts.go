package domain

import (
	"context"
	"time"
)

// HealthDataSource abstracts the platform health API. Implementations make
// plain sequential calls with explicit errors; the change feed's continuation
// token is opaque to callers.
type HealthDataSource interface {
	AuthorizedTypes(ctx context.Context) ([]DataType, error)
	RequestChangeToken(ctx context.Context, types []DataType) (string, error)
	PullChanges(ctx context.Context, token string) (ChangePage, error)
	ReadRecords(ctx context.Context, dt DataType, from, to time.Time) ([]Record, error)
}

// TokenStore persists one continuation token per data type. An absent token
// means the type has never been synced and must backfill.
type TokenStore interface {
	Get(ctx context.Context, dt DataType) (string, bool, error)
	Set(ctx context.Context, dt DataType, token string) error
	Clear(ctx context.Context, dt DataType) error
}

// OutboxStore is the durable change queue between detector and publisher.
// Append is atomic per batch; Drain returns entries FIFO by insertion.
type OutboxStore interface {
	Append(ctx context.Context, entries []OutboxEntry) error
	Drain(ctx context.Context, limit int) ([]OutboxEntry, error)
	Remove(ctx context.Context, ids []int64) error
	PendingCount(ctx context.Context) (int, error)
}

// Outcome classifies how one data type fared within a sync run.
type Outcome string

const (
	OutcomeBackfilled Outcome = "backfilled"
	OutcomeSynced     Outcome = "synced"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	// OutcomeTokenReset records an expired token cleared mid-run; the next
	// run takes the backfill path for this type.
	OutcomeTokenReset Outcome = "token_reset"
)

// TypeResult is the per-type outcome of a run.
type TypeResult struct {
	Outcome Outcome `json:"outcome"`
	Queued  int     `json:"queued"`
	Error   string  `json:"error,omitempty"`
}

// RunReport aggregates one orchestrator invocation.
type RunReport struct {
	RunID      string                  `json:"run_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Results    map[DataType]TypeResult `json:"results"`
	// Retry is set only when the platform subsystem itself was unavailable
	// and the caller should reschedule the whole run.
	Retry bool `json:"retry"`
}

// RunStore persists the last-run record.
type RunStore interface {
	RecordRun(ctx context.Context, report RunReport) error
	LastRun(ctx context.Context) (*RunReport, error)
}
