// Package api exposes HTTP handlers for the sync service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/domain"
)

// SyncRunner is the orchestrator entrypoint.
type SyncRunner interface {
	RunSync(ctx context.Context) (domain.RunReport, error)
}

// Drainer is the publisher entrypoint.
type Drainer interface {
	Drain(ctx context.Context) (delivered, remaining int, err error)
}

// StatusSource reads the persisted run and queue state.
type StatusSource interface {
	LastRun(ctx context.Context) (*domain.RunReport, error)
	PendingCount(ctx context.Context) (int, error)
}

// Handler coordinates HTTP requests with the sync core.
type Handler struct {
	runner  SyncRunner
	drainer Drainer
	status  StatusSource
}

// NewHandler builds a Handler.
func NewHandler(runner SyncRunner, drainer Drainer, status StatusSource) *Handler {
	return &Handler{runner: runner, drainer: drainer, status: status}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync/run", h.runSync)
	mux.HandleFunc("/v1/outbox/drain", h.drainOutbox)
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// RunSyncResponse is the payload returned by the sync entrypoint.
type RunSyncResponse struct {
	RunID      string                                `json:"run_id"`
	StartedAt  time.Time                             `json:"started_at"`
	FinishedAt time.Time                             `json:"finished_at"`
	Results    map[domain.DataType]domain.TypeResult `json:"results"`
	Retry      bool                                  `json:"retry"`
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSyncRun) {
		return
	}

	report, err := h.runner.RunSync(r.Context())
	resp := RunSyncResponse{
		RunID:      report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Results:    report.Results,
		Retry:      report.Retry,
	}
	if err != nil {
		// The platform was unavailable; the caller should retry later.
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DrainResponse is the payload returned by the outbox drain entrypoint.
type DrainResponse struct {
	Delivered int `json:"delivered"`
	Remaining int `json:"remaining"`
}

func (h *Handler) drainOutbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSyncRun) {
		return
	}

	delivered, remaining, err := h.drainer.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "drain_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DrainResponse{Delivered: delivered, Remaining: remaining})
}

// StatusResponse reports the last run and outstanding queue depth.
type StatusResponse struct {
	LastRun *domain.RunReport `json:"last_run"`
	Pending int               `json:"pending"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSyncRead) {
		return
	}

	lastRun, err := h.status.LastRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	pending, err := h.status.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{LastRun: lastRun, Pending: pending})
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
