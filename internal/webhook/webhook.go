// Package webhook delivers best-effort event notifications. Delivery
// failures are reported to the caller for logging but never block the
// triggering operation.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payload is the JSON body posted to the configured webhook URL.
type Payload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	CreatedAt int64          `json:"created_at"`
}

// NewPayload stamps an event payload with the current time.
func NewPayload(event string, data map[string]any) Payload {
	return Payload{Event: event, Data: data, CreatedAt: time.Now().Unix()}
}

// Client posts payloads to a fixed URL.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient returns nil when no URL is configured; a nil client's Post is a no-op.
func NewClient(url string, httpClient *http.Client) *Client {
	if url == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, httpClient: httpClient}
}

// Post delivers the payload.
func (c *Client) Post(ctx context.Context, payload Payload) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
