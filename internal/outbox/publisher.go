package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
)

// conflictKey is the natural key every remote health table is merged on.
const conflictKey = "user_id,source_id,record_date"

type remoteWriter interface {
	Upsert(ctx context.Context, table string, rows []map[string]any, conflictKey string) error
	Delete(ctx context.Context, table, userID, sourceID string) error
}

// Publisher independently drains the outbox store and delivers entries to the
// remote store. Entries are removed only after confirmed acceptance; failed
// entries stay queued for the next cycle.
type Publisher struct {
	store            domain.OutboxStore
	remote           remoteWriter
	userID           string
	batchSize        int
	pollInterval     time.Duration
	shutdownComplete chan struct{}
}

// NewPublisher constructs a Publisher.
func NewPublisher(store domain.OutboxStore, remote remoteWriter, userID string, pollInterval time.Duration, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		store:            store,
		remote:           remote,
		userID:           userID,
		batchSize:        batchSize,
		pollInterval:     pollInterval,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer func() {
		ticker.Stop()
		close(p.shutdownComplete)
	}()

	for {
		if _, _, err := p.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox publisher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the polling loop has stopped.
func (p *Publisher) Wait() {
	<-p.shutdownComplete
}

// Drain delivers one bounded batch and reports how many entries were accepted
// remotely and how many remain queued afterward.
func (p *Publisher) Drain(ctx context.Context) (delivered, remaining int, err error) {
	start := time.Now()

	entries, err := p.store.Drain(ctx, p.batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		remaining, err = p.store.PendingCount(ctx)
		return 0, remaining, err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	done := p.deliver(ctx, entries)
	if len(done) > 0 {
		if err := p.store.Remove(ctx, done); err != nil {
			return 0, 0, err
		}
		observability.RecordPublish(time.Now().UTC())
	}

	remaining, err = p.store.PendingCount(ctx)
	return len(done), remaining, err
}

// tableBatch accumulates upsert rows for one remote table, in drain order.
type tableBatch struct {
	rows []map[string]any
	ids  []int64
}

// deliver sends the batch and returns the ids of entries the remote store
// confirmed. Failures are logged, counted, and their entries left queued.
// Entries for one table go out in drain order: a delete flushes the table's
// pending upsert rows first, and once anything for a table fails the rest of
// its entries stay queued so a retry cannot overtake a newer write.
func (p *Publisher) deliver(ctx context.Context, entries []domain.OutboxEntry) []int64 {
	done := make([]int64, 0, len(entries))
	upserts := make(map[string]*tableBatch)
	tables := make([]string, 0)
	stalled := make(map[string]bool)

	flush := func(table string) bool {
		batch := upserts[table]
		if batch == nil || len(batch.rows) == 0 {
			return true
		}
		rows, ids := batch.rows, batch.ids
		batch.rows, batch.ids = nil, nil
		if err := p.remote.Upsert(ctx, table, rows, conflictKey); err != nil {
			log.Printf("outbox: upsert batch to %s failed (%d rows): %v", table, len(rows), err)
			failedCounter.WithLabelValues(table).Add(float64(len(ids)))
			return false
		}
		deliveredCounter.WithLabelValues(table).Add(float64(len(ids)))
		done = append(done, ids...)
		return true
	}

	for _, entry := range entries {
		spec, err := domain.Spec(entry.DataType)
		if err != nil {
			// An unknown type can only appear after a bad rollout; keep the
			// entry so a fixed build can deliver it.
			log.Printf("outbox: skipping entry %d: %v", entry.ID, err)
			failedCounter.WithLabelValues("unknown").Inc()
			continue
		}

		if stalled[spec.RemoteTable] {
			failedCounter.WithLabelValues(spec.RemoteTable).Inc()
			continue
		}

		if entry.Op == domain.OpDelete {
			if !flush(spec.RemoteTable) {
				stalled[spec.RemoteTable] = true
				failedCounter.WithLabelValues(spec.RemoteTable).Inc()
				continue
			}
			if err := p.remote.Delete(ctx, spec.RemoteTable, p.userID, entry.SourceID); err != nil {
				log.Printf("outbox: delete of %s/%s failed: %v", spec.RemoteTable, entry.SourceID, err)
				failedCounter.WithLabelValues(spec.RemoteTable).Inc()
				stalled[spec.RemoteTable] = true
				continue
			}
			deliveredCounter.WithLabelValues(spec.RemoteTable).Inc()
			done = append(done, entry.ID)
			continue
		}

		batch, ok := upserts[spec.RemoteTable]
		if !ok {
			batch = &tableBatch{}
			upserts[spec.RemoteTable] = batch
			tables = append(tables, spec.RemoteTable)
		}
		batch.add(p.row(entry), entry.ID)
	}

	for _, table := range tables {
		flush(table)
	}

	return done
}

// add appends a row, collapsing an earlier row with the same conflict key so
// one request never carries two versions of the same record. Drain order makes
// the kept row the last write.
func (b *tableBatch) add(row map[string]any, id int64) {
	for i, existing := range b.rows {
		if existing["source_id"] == row["source_id"] && existing["record_date"] == row["record_date"] {
			b.rows[i] = row
			b.ids = append(b.ids, id)
			return
		}
	}
	b.rows = append(b.rows, row)
	b.ids = append(b.ids, id)
}

// row flattens an entry's payload into remote table columns alongside the
// conflict key columns.
func (p *Publisher) row(entry domain.OutboxEntry) map[string]any {
	row := map[string]any{
		"user_id":     p.userID,
		"source_id":   entry.SourceID,
		"record_date": entry.RecordDate.UTC().Format(time.RFC3339),
	}

	var fields map[string]any
	if err := json.Unmarshal(entry.Payload, &fields); err == nil {
		for key, value := range fields {
			if _, reserved := row[key]; !reserved {
				row[key] = value
			}
		}
	}
	return row
}
