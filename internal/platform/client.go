// Package platform implements the HTTP client for the platform health API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"example.com/healthsync/internal/domain"
)

// Client talks to the platform health API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client with sane defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type recordDTO struct {
	ID     string                     `json:"id"`
	Type   string                     `json:"type"`
	Start  time.Time                  `json:"start"`
	End    time.Time                  `json:"end"`
	Origin string                     `json:"origin"`
	Fields map[string]json.RawMessage `json:"fields"`
}

func (d recordDTO) toDomain() domain.Record {
	return domain.Record{
		ID:       d.ID,
		DataType: domain.DataType(d.Type),
		Start:    d.Start,
		End:      d.End,
		Origin:   d.Origin,
		Fields:   d.Fields,
	}
}

// AuthorizedTypes returns the data types the platform currently authorizes
// this client to read.
func (c *Client) AuthorizedTypes(ctx context.Context) ([]domain.DataType, error) {
	var payload struct {
		Types []string `json:"types"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/v1/types", &payload); err != nil {
		return nil, fmt.Errorf("listing authorized types: %w", err)
	}

	types := make([]domain.DataType, 0, len(payload.Types))
	for _, t := range payload.Types {
		types = append(types, domain.DataType(t))
	}
	return types, nil
}

// RequestChangeToken issues a fresh continuation token scoped to the given types.
func (c *Client) RequestChangeToken(ctx context.Context, types []domain.DataType) (string, error) {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	body, err := json.Marshal(map[string]any{"types": names})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/changes/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("requesting change token: %s: %s", resp.Status, data)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fmt.Errorf("platform returned empty change token")
	}
	return payload.Token, nil
}

// PullChanges fetches the next page of the change feed. A 410 response means
// the token has expired; that is reported on the page, not as an error.
func (c *Client) PullChanges(ctx context.Context, token string) (domain.ChangePage, error) {
	endpoint := c.baseURL + "/v1/changes?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ChangePage{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ChangePage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return domain.ChangePage{Expired: true}, nil
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return domain.ChangePage{}, fmt.Errorf("pulling changes: %s: %s", resp.Status, data)
	}

	var payload struct {
		Changes []struct {
			RecordID string     `json:"record_id"`
			Deleted  bool       `json:"deleted"`
			Record   *recordDTO `json:"record"`
		} `json:"changes"`
		NextToken string `json:"next_token"`
		HasMore   bool   `json:"has_more"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ChangePage{}, err
	}

	page := domain.ChangePage{
		NextToken: payload.NextToken,
		HasMore:   payload.HasMore,
		Changes:   make([]domain.Change, 0, len(payload.Changes)),
	}
	for _, item := range payload.Changes {
		change := domain.Change{RecordID: item.RecordID, Deleted: item.Deleted}
		if item.Record != nil {
			rec := item.Record.toDomain()
			change.Record = &rec
		}
		page.Changes = append(page.Changes, change)
	}
	return page, nil
}

// ReadRecords reads all records of one type within a time range.
func (c *Client) ReadRecords(ctx context.Context, dt domain.DataType, from, to time.Time) ([]domain.Record, error) {
	query := url.Values{}
	query.Set("type", string(dt))
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	var payload struct {
		Records []recordDTO `json:"records"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/v1/records?"+query.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("reading %s records: %w", dt, err)
	}

	records := make([]domain.Record, 0, len(payload.Records))
	for _, dto := range payload.Records {
		rec := dto.toDomain()
		if rec.DataType == "" {
			rec.DataType = dt
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ domain.HealthDataSource = (*Client)(nil)
