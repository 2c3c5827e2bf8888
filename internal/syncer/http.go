package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPPusher posts envelope batches as JSON to the relay's submit
// endpoint. Timeout policy lives here, not in the storage layer.
type HTTPPusher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPPusher creates a pusher for the given endpoint. A zero timeout
// defaults to 15 seconds.
func NewHTTPPusher(endpoint string, timeout time.Duration) *HTTPPusher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPPusher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Push delivers one batch. Any non-2xx response fails the batch.
func (p *HTTPPusher) Push(ctx context.Context, batch []Envelope) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("relay rejected batch: %s: %s", resp.Status, snippet)
	}
	return nil
}

var _ Pusher = (*HTTPPusher)(nil)
