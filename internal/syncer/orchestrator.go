package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/settings"
)

// Orchestrator drives one sync run across every authorized data type.
type Orchestrator struct {
	source         domain.HealthDataSource
	fetcher        settings.Fetcher
	detector       *Detector
	runs           domain.RunStore
	sourceIdentity string
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(source domain.HealthDataSource, fetcher settings.Fetcher, detector *Detector, runs domain.RunStore, sourceIdentity string) *Orchestrator {
	return &Orchestrator{
		source:         source,
		fetcher:        fetcher,
		detector:       detector,
		runs:           runs,
		sourceIdentity: sourceIdentity,
	}
}

// RunSync executes one sync run. A non-nil error is returned only for the
// whole-run precondition failure (platform unavailable); per-type failures
// are isolated into the report.
func (o *Orchestrator) RunSync(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make(map[domain.DataType]domain.TypeResult),
	}
	timer := time.Now()
	defer func() {
		runDuration.Observe(time.Since(timer).Seconds())
	}()

	authorized, err := o.source.AuthorizedTypes(ctx)
	if err != nil {
		report.Retry = true
		report.FinishedAt = time.Now().UTC()
		o.record(ctx, report)
		return report, fmt.Errorf("platform unavailable, retry later: %w", err)
	}

	gate := settings.LoadGate(ctx, o.fetcher, o.sourceIdentity)

	for _, dt := range authorized {
		if _, err := domain.Spec(dt); err != nil {
			log.Printf("syncer: ignoring unsupported type %q", dt)
			continue
		}

		if !gate.IsEnabled(dt) {
			report.Results[dt] = domain.TypeResult{Outcome: domain.OutcomeSkipped}
			continue
		}

		result, err := o.detector.Detect(ctx, dt)
		if err != nil {
			// One type's failure never stops the remaining types.
			log.Printf("syncer: %s detection failed: %v", dt, err)
			typesFailed.WithLabelValues(string(dt)).Inc()
		}
		report.Results[dt] = result
	}

	report.FinishedAt = time.Now().UTC()
	o.record(ctx, report)
	observability.RecordSyncRun(report.FinishedAt)
	return report, nil
}

func (o *Orchestrator) record(ctx context.Context, report domain.RunReport) {
	if o.runs == nil {
		return
	}
	if err := o.runs.RecordRun(ctx, report); err != nil {
		log.Printf("syncer: recording run %s failed: %v", report.RunID, err)
	}
}
