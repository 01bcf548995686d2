// Package syncer implements change detection against the platform health API
// and the orchestration of one sync run across all data types.
package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"example.com/healthsync/internal/domain"
)

// Detector decides, per data type, between a one-shot backfill and paged
// incremental pulls, queues the resulting outbox entries, and advances the
// continuation token.
type Detector struct {
	source         domain.HealthDataSource
	tokens         domain.TokenStore
	outbox         domain.OutboxStore
	backfillWindow time.Duration
	maxPages       int
	now            func() time.Time
}

// NewDetector constructs a Detector. backfillWindowDays and maxPages guard
// the two unbounded inputs: history depth and change-feed length.
func NewDetector(source domain.HealthDataSource, tokens domain.TokenStore, outbox domain.OutboxStore, backfillWindowDays, maxPages int) *Detector {
	if backfillWindowDays <= 0 {
		backfillWindowDays = 14
	}
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Detector{
		source:         source,
		tokens:         tokens,
		outbox:         outbox,
		backfillWindow: time.Duration(backfillWindowDays) * 24 * time.Hour,
		maxPages:       maxPages,
		now:            time.Now,
	}
}

// Detect runs change detection for a single data type and reports its outcome.
func (d *Detector) Detect(ctx context.Context, dt domain.DataType) (domain.TypeResult, error) {
	token, present, err := d.tokens.Get(ctx, dt)
	if err != nil {
		return failed(0, err), err
	}

	if !present {
		return d.backfill(ctx, dt)
	}
	return d.incremental(ctx, dt, token)
}

// backfill reads the trailing window in one bounded pass, queues everything as
// upserts, then stores a brand-new token for subsequent incremental runs.
func (d *Detector) backfill(ctx context.Context, dt domain.DataType) (domain.TypeResult, error) {
	now := d.now().UTC()
	records, err := d.source.ReadRecords(ctx, dt, now.Add(-d.backfillWindow), now)
	if err != nil {
		return failed(0, err), err
	}

	entries := make([]domain.OutboxEntry, 0, len(records))
	for _, rec := range records {
		entry, err := domain.EntryFor(rec)
		if err != nil {
			return failed(0, err), err
		}
		entries = append(entries, entry)
	}

	if err := d.outbox.Append(ctx, entries); err != nil {
		return failed(0, err), err
	}
	entriesQueued.WithLabelValues(string(dt)).Add(float64(len(entries)))

	// The token is requested only after the window's entries are durable, so
	// nothing reported before token issuance can be lost.
	token, err := d.source.RequestChangeToken(ctx, []domain.DataType{dt})
	if err != nil {
		return failed(len(entries), err), err
	}
	if err := d.tokens.Set(ctx, dt, token); err != nil {
		return failed(len(entries), err), err
	}

	return domain.TypeResult{Outcome: domain.OutcomeBackfilled, Queued: len(entries)}, nil
}

// incremental pulls change pages until the feed is exhausted, the token
// expires, or the per-run page cap is hit. Entries for each page are durable
// before the token advances past that page.
func (d *Detector) incremental(ctx context.Context, dt domain.DataType, token string) (domain.TypeResult, error) {
	queued := 0

	for page := 0; page < d.maxPages; page++ {
		feed, err := d.source.PullChanges(ctx, token)
		if err != nil {
			return failed(queued, err), err
		}

		if feed.Expired {
			// Expiry is a state transition, not an error: clear the token so
			// the next run backfills. Entries already appended stay queued.
			if err := d.tokens.Clear(ctx, dt); err != nil {
				return failed(queued, err), err
			}
			tokenResets.WithLabelValues(string(dt)).Inc()
			return domain.TypeResult{Outcome: domain.OutcomeTokenReset, Queued: queued}, nil
		}

		entries, err := d.classify(dt, feed.Changes)
		if err != nil {
			return failed(queued, err), err
		}

		if err := d.outbox.Append(ctx, entries); err != nil {
			return failed(queued, err), err
		}
		queued += len(entries)
		entriesQueued.WithLabelValues(string(dt)).Add(float64(len(entries)))

		if feed.NextToken != "" && feed.NextToken != token {
			if err := d.tokens.Set(ctx, dt, feed.NextToken); err != nil {
				return failed(queued, err), err
			}
			token = feed.NextToken
		}

		if !feed.HasMore {
			return domain.TypeResult{Outcome: domain.OutcomeSynced, Queued: queued}, nil
		}
	}

	// Cap reached: the stored token already reflects the pages processed, so
	// the remainder simply carries over to the next scheduled run.
	log.Printf("syncer: %s hit page cap (%d), deferring remaining changes", dt, d.maxPages)
	pageCapHits.WithLabelValues(string(dt)).Inc()
	return domain.TypeResult{Outcome: domain.OutcomeSynced, Queued: queued}, nil
}

func (d *Detector) classify(dt domain.DataType, changes []domain.Change) ([]domain.OutboxEntry, error) {
	entries := make([]domain.OutboxEntry, 0, len(changes))
	for _, change := range changes {
		switch {
		case change.Deleted:
			entries = append(entries, domain.DeleteEntryFor(dt, change.RecordID, d.now()))
		case change.Record != nil:
			entry, err := domain.EntryFor(*change.Record)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		default:
			return nil, fmt.Errorf("change for %s carries neither record nor deletion (record_id=%s)", dt, change.RecordID)
		}
	}
	return entries, nil
}

func failed(queued int, err error) domain.TypeResult {
	return domain.TypeResult{Outcome: domain.OutcomeFailed, Queued: queued, Error: err.Error()}
}
