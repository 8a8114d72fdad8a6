// Package forward relays normalized plates to an external HTTP endpoint.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/your-org/guarda/internal/config"
	"github.com/your-org/guarda/internal/models"
)

// Payload is the body posted for every plate.
type Payload struct {
	Plate      string `json:"plate"`
	FormatType string `json:"format_type"`
	RawText    string `json:"raw_text"`
}

// Result is what the endpoint answered.
type Result struct {
	StatusCode int
	Body       string
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forward endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether redelivering the plate may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	url  string
	http *http.Client
}

func NewClient(cfg config.ForwardConfig) *Client {
	return &Client{url: cfg.URL, http: &http.Client{Timeout: cfg.Timeout}}
}

// Send posts one plate event.
func (c *Client) Send(ctx context.Context, ev models.PlateEvent) (*Result, error) {
	body, err := json.Marshal(Payload{Plate: ev.Plate, FormatType: ev.FormatType, RawText: ev.RawText})
	if err != nil {
		return nil, fmt.Errorf("marshal forward payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.EventID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward plate: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	res := &Result{StatusCode: resp.StatusCode, Body: string(respBody)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, &StatusError{StatusCode: resp.StatusCode, Body: res.Body}
	}
	return res, nil
}
