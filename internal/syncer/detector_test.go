package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestBackfillQueuesAllRecordsAndStoresToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	source := &stubSource{
		records: []domain.Record{
			stepsRecord("rec-1", now.Add(-72*time.Hour), 4200),
			stepsRecord("rec-2", now.Add(-48*time.Hour), 8100),
			stepsRecord("rec-3", now.Add(-24*time.Hour), 10340),
		},
		issuedToken: "tok-new",
	}
	tokens := newMemTokens()
	outbox := newMemOutbox()

	detector := NewDetector(source, tokens, outbox, 14, 50)

	result, err := detector.Detect(ctx, domain.DataTypeSteps)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeBackfilled, result.Outcome)
	require.Equal(t, 3, result.Queued)

	require.Len(t, outbox.entries, 3)
	for _, entry := range outbox.entries {
		require.Equal(t, domain.OpUpsert, entry.Op)
		require.Equal(t, domain.DataTypeSteps, entry.DataType)
	}

	token, present := tokens.get(domain.DataTypeSteps)
	require.True(t, present)
	require.Equal(t, "tok-new", token)

	// The backfill window is the configured trailing span.
	require.WithinDuration(t, now.Add(-14*24*time.Hour), source.readFrom, 2*time.Second)
}

func TestBackfillTokenRequestedOnlyAfterAppend(t *testing.T) {
	ctx := context.Background()

	source := &stubSource{
		records:     []domain.Record{stepsRecord("rec-1", time.Now().UTC(), 100)},
		issuedToken: "tok-new",
	}
	tokens := newMemTokens()
	outbox := newMemOutbox()
	outbox.appendErr = errors.New("disk full")

	detector := NewDetector(source, tokens, outbox, 14, 50)

	_, err := detector.Detect(ctx, domain.DataTypeSteps)
	require.Error(t, err)
	require.Zero(t, source.tokenRequests, "no token may be issued before entries are durable")
	_, present := tokens.get(domain.DataTypeSteps)
	require.False(t, present)
}

func TestIncrementalUpsertAndDelete(t *testing.T) {
	ctx := context.Background()

	rec := sleepRecord("sleep-1", time.Now().UTC().Add(-8*time.Hour))
	source := &stubSource{
		pages: map[string]domain.ChangePage{
			"T1": {
				Changes: []domain.Change{
					{RecordID: "sleep-1", Record: &rec},
					{RecordID: "sleep-0", Deleted: true},
				},
				NextToken: "T2",
				HasMore:   false,
			},
		},
	}
	tokens := newMemTokens()
	tokens.set(domain.DataTypeSleep, "T1")
	outbox := newMemOutbox()

	detector := NewDetector(source, tokens, outbox, 14, 50)

	result, err := detector.Detect(ctx, domain.DataTypeSleep)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSynced, result.Outcome)
	require.Equal(t, 2, result.Queued)

	require.Len(t, outbox.entries, 2)
	require.Equal(t, domain.OpUpsert, outbox.entries[0].Op)
	require.Equal(t, "sleep-1", outbox.entries[0].SourceID)
	require.Equal(t, domain.OpDelete, outbox.entries[1].Op)
	require.Equal(t, "sleep-0", outbox.entries[1].SourceID)
	require.JSONEq(t, `{}`, string(outbox.entries[1].Payload))

	token, present := tokens.get(domain.DataTypeSleep)
	require.True(t, present)
	require.Equal(t, "T2", token)
}

func TestIncrementalNoChangesIsNoOp(t *testing.T) {
	ctx := context.Background()

	source := &stubSource{
		pages: map[string]domain.ChangePage{
			"T1": {NextToken: "T1", HasMore: false},
		},
	}
	tokens := newMemTokens()
	tokens.set(domain.DataTypeHeartRate, "T1")
	outbox := newMemOutbox()

	detector := NewDetector(source, tokens, outbox, 14, 50)

	result, err := detector.Detect(ctx, domain.DataTypeHeartRate)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSynced, result.Outcome)
	require.Zero(t, result.Queued)
	require.Empty(t, outbox.entries)

	token, _ := tokens.get(domain.DataTypeHeartRate)
	require.Equal(t, "T1", token)

	// A second consecutive run is equally a no-op.
	result, err = detector.Detect(ctx, domain.DataTypeHeartRate)
	require.NoError(t, err)
	require.Zero(t, result.Queued)
	require.Empty(t, outbox.entries)
	token, _ = tokens.get(domain.DataTypeHeartRate)
	require.Equal(t, "T1", token)
}

func TestExpiredTokenIsClearedWithoutLosingAppendedPages(t *testing.T) {
	ctx := context.Background()

	rec := stepsRecord("rec-1", time.Now().UTC(), 500)
	source := &stubSource{
		pages: map[string]domain.ChangePage{
			"T1": {
				Changes:   []domain.Change{{RecordID: "rec-1", Record: &rec}},
				NextToken: "T2",
				HasMore:   true,
			},
			"T2": {Expired: true},
		},
	}
	tokens := newMemTokens()
	tokens.set(domain.DataTypeSteps, "T1")
	outbox := newMemOutbox()

	detector := NewDetector(source, tokens, outbox, 14, 50)

	result, err := detector.Detect(ctx, domain.DataTypeSteps)
	require.NoError(t, err, "expiry is a state transition, not an error")
	require.Equal(t, domain.OutcomeTokenReset, result.Outcome)
	require.Equal(t, 1, result.Queued)

	// The first page's entries survive the reset.
	require.Len(t, outbox.entries, 1)
	_, present := tokens.get(domain.DataTypeSteps)
	require.False(t, present, "token must be absent so the next run backfills")
}

func TestTokenNotAdvancedWhenAppendFails(t *testing.T) {
	ctx := context.Background()

	rec := stepsRecord("rec-1", time.Now().UTC(), 500)
	source := &stubSource{
		pages: map[string]domain.ChangePage{
			"T1": {
				Changes:   []domain.Change{{RecordID: "rec-1", Record: &rec}},
				NextToken: "T2",
			},
		},
	}
	tokens := newMemTokens()
	tokens.set(domain.DataTypeSteps, "T1")
	outbox := newMemOutbox()
	outbox.appendErr = errors.New("postgres down")

	detector := NewDetector(source, tokens, outbox, 14, 50)

	_, err := detector.Detect(ctx, domain.DataTypeSteps)
	require.Error(t, err)

	token, present := tokens.get(domain.DataTypeSteps)
	require.True(t, present)
	require.Equal(t, "T1", token, "token must lag when the page was not queued")
}

func TestPageCapDefersRemainingChanges(t *testing.T) {
	ctx := context.Background()

	// A feed that always reports more pages.
	rec := stepsRecord("rec-1", time.Now().UTC(), 100)
	source := &stubSource{
		endless: &rec,
	}
	tokens := newMemTokens()
	tokens.set(domain.DataTypeSteps, "T0")
	outbox := newMemOutbox()

	detector := NewDetector(source, tokens, outbox, 14, 5)

	result, err := detector.Detect(ctx, domain.DataTypeSteps)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSynced, result.Outcome)
	require.Equal(t, 5, result.Queued, "one entry per page up to the cap")
	require.Equal(t, 5, source.pullCalls)

	// Progress made so far is committed; the next run resumes from there.
	token, _ := tokens.get(domain.DataTypeSteps)
	require.Equal(t, "T5", token)
}

// --- stubs ---

type stubSource struct {
	types         []domain.DataType
	typesErr      error
	records       []domain.Record
	recordsErr    map[domain.DataType]error
	issuedToken   string
	tokenErr      error
	tokenRequests int
	pages         map[string]domain.ChangePage
	endless       *domain.Record
	pullCalls     int
	readFrom      time.Time
	readTo        time.Time
}

func (s *stubSource) AuthorizedTypes(context.Context) ([]domain.DataType, error) {
	if s.typesErr != nil {
		return nil, s.typesErr
	}
	return s.types, nil
}

func (s *stubSource) RequestChangeToken(_ context.Context, _ []domain.DataType) (string, error) {
	s.tokenRequests++
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return s.issuedToken, nil
}

func (s *stubSource) PullChanges(_ context.Context, token string) (domain.ChangePage, error) {
	s.pullCalls++
	if s.endless != nil {
		return domain.ChangePage{
			Changes:   []domain.Change{{RecordID: s.endless.ID, Record: s.endless}},
			NextToken: "T" + itoa(s.pullCalls),
			HasMore:   true,
		}, nil
	}
	page, ok := s.pages[token]
	if !ok {
		return domain.ChangePage{}, errors.New("unknown token: " + token)
	}
	return page, nil
}

func (s *stubSource) ReadRecords(_ context.Context, dt domain.DataType, from, to time.Time) ([]domain.Record, error) {
	if err := s.recordsErr[dt]; err != nil {
		return nil, err
	}
	s.readFrom, s.readTo = from, to
	out := make([]domain.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.DataType == dt {
			out = append(out, rec)
		}
	}
	return out, nil
}

func itoa(n int) string {
	return string(rune('0' + n))
}

type memTokens struct {
	tokens map[domain.DataType]string
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[domain.DataType]string)}
}

func (m *memTokens) Get(_ context.Context, dt domain.DataType) (string, bool, error) {
	token, ok := m.tokens[dt]
	return token, ok, nil
}

func (m *memTokens) Set(_ context.Context, dt domain.DataType, token string) error {
	m.tokens[dt] = token
	return nil
}

func (m *memTokens) Clear(_ context.Context, dt domain.DataType) error {
	delete(m.tokens, dt)
	return nil
}

func (m *memTokens) get(dt domain.DataType) (string, bool) {
	token, ok := m.tokens[dt]
	return token, ok
}

func (m *memTokens) set(dt domain.DataType, token string) {
	m.tokens[dt] = token
}

type memOutbox struct {
	entries   []domain.OutboxEntry
	appendErr error
	nextID    int64
}

func newMemOutbox() *memOutbox {
	return &memOutbox{}
}

func (m *memOutbox) Append(_ context.Context, entries []domain.OutboxEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, entry := range entries {
		m.nextID++
		entry.ID = m.nextID
		m.entries = append(m.entries, entry)
	}
	return nil
}

func (m *memOutbox) Drain(_ context.Context, limit int) ([]domain.OutboxEntry, error) {
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]domain.OutboxEntry, limit)
	copy(out, m.entries[:limit])
	return out, nil
}

func (m *memOutbox) Remove(_ context.Context, ids []int64) error {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.entries[:0]
	for _, entry := range m.entries {
		if _, gone := drop[entry.ID]; !gone {
			kept = append(kept, entry)
		}
	}
	m.entries = kept
	return nil
}

func (m *memOutbox) PendingCount(context.Context) (int, error) {
	return len(m.entries), nil
}

func stepsRecord(id string, start time.Time, count float64) domain.Record {
	return domain.Record{
		ID:       id,
		DataType: domain.DataTypeSteps,
		Start:    start,
		End:      start.Add(24 * time.Hour),
		Fields: map[string]json.RawMessage{
			"count": jsonNumber(count),
			"unit":  json.RawMessage(`"steps"`),
		},
	}
}

func sleepRecord(id string, start time.Time) domain.Record {
	return domain.Record{
		ID:       id,
		DataType: domain.DataTypeSleep,
		Start:    start,
		End:      start.Add(7 * time.Hour),
		Fields: map[string]json.RawMessage{
			"light_minutes": jsonNumber(240),
			"deep_minutes":  jsonNumber(90),
			"rem_minutes":   jsonNumber(80),
		},
	}
}

func jsonNumber(v float64) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
