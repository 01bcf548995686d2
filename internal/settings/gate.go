// Package settings fetches remote metric settings and gates collection per
// data type.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"example.com/healthsync/internal/domain"
)

// MetricSetting is one row of the remote settings service.
type MetricSetting struct {
	Metric          string `json:"metric"`
	Enabled         bool   `json:"enabled"`
	PreferredSource string `json:"preferred_source"`
}

// Client fetches metric settings from the remote settings service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a settings client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetMetricSettings returns the current metric settings snapshot.
func (c *Client) GetMetricSettings(ctx context.Context) ([]MetricSetting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/settings/metrics", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("settings fetch: %s: %s", resp.Status, data)
	}

	var payload struct {
		Metrics []MetricSetting `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Metrics, nil
}

// Fetcher is the settings dependency of the gate.
type Fetcher interface {
	GetMetricSettings(ctx context.Context) ([]MetricSetting, error)
}

// Gate is a per-run snapshot answering whether collection of a data type is
// currently permitted.
type Gate struct {
	settings map[string]MetricSetting
	source   string
	failOpen bool
}

// LoadGate fetches a settings snapshot for one orchestrator run. If the fetch
// fails the gate fails open: availability of data capture wins over strict
// settings compliance, and the next successful fetch self-corrects.
func LoadGate(ctx context.Context, fetcher Fetcher, sourceIdentity string) *Gate {
	metrics, err := fetcher.GetMetricSettings(ctx)
	if err != nil {
		log.Printf("settings: fetch failed, gating fails open: %v", err)
		fetchFailures.Inc()
		return &Gate{source: sourceIdentity, failOpen: true}
	}

	byName := make(map[string]MetricSetting, len(metrics))
	for _, m := range metrics {
		byName[m.Metric] = m
	}
	return &Gate{settings: byName, source: sourceIdentity}
}

// IsEnabled reports whether the data type may be collected: its metric must be
// enabled and any source preference must match this sync path.
func (g *Gate) IsEnabled(dt domain.DataType) bool {
	if g.failOpen {
		return true
	}

	metric := domain.MetricFor(dt)
	if metric == "" {
		return true
	}

	setting, ok := g.settings[metric]
	if !ok {
		// Metrics the settings service does not know about are collected.
		return true
	}
	if !setting.Enabled {
		return false
	}
	return setting.PreferredSource == "" || setting.PreferredSource == g.source
}

// FailedOpen reports whether this snapshot is the degraded fail-open gate.
func (g *Gate) FailedOpen() bool {
	return g.failOpen
}
