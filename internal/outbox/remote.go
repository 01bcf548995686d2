// Package outbox delivers queued health record changes to the remote store.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RemoteStoreClient writes rows to the remote row store over its REST
// interface. Upserts are idempotent on the supplied conflict key; repeated
// delivery of the same logical change is a no-op remotely.
type RemoteStoreClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRemoteStoreClient constructs a client with sane defaults.
func NewRemoteStoreClient(baseURL, token string) *RemoteStoreClient {
	return &RemoteStoreClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Upsert writes rows into table, merging on the conflict key columns.
func (c *RemoteStoreClient) Upsert(ctx context.Context, table string, rows []map[string]any, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s", c.baseURL, url.PathEscape(table), url.QueryEscape(conflictKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")
	c.authorize(req)

	return c.do(req, table)
}

// Delete removes the row identified by source id (and user) from table.
func (c *RemoteStoreClient) Delete(ctx context.Context, table, userID, sourceID string) error {
	query := url.Values{}
	query.Set("user_id", "eq."+userID)
	query.Set("source_id", "eq."+sourceID)

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	return c.do(req, table)
}

func (c *RemoteStoreClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *RemoteStoreClient) do(req *http.Request, table string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote store %s %s: %s: %s", req.Method, table, resp.Status, data)
	}
	return nil
}
