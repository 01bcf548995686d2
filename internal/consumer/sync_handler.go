package consumer

import (
	"context"
	"log"

	"example.com/healthsync/internal/domain"
)

// SyncRunner is the orchestrator entrypoint the handler invokes.
type SyncRunner interface {
	RunSync(ctx context.Context) (domain.RunReport, error)
}

// SyncHandler runs a sync in response to a trigger message.
type SyncHandler struct {
	runner SyncRunner
}

// NewSyncHandler constructs a handler around the orchestrator.
func NewSyncHandler(runner SyncRunner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// Handle runs one sync. A retry-signalled run is returned as an error so the
// message stays uncommitted and redelivers.
func (h *SyncHandler) Handle(ctx context.Context, msg TriggerMessage) error {
	report, err := h.runner.RunSync(ctx)
	if err != nil {
		return err
	}
	log.Printf("trigger: run %s completed (reason=%s, types=%d)", report.RunID, msg.Reason, len(report.Results))
	return nil
}
