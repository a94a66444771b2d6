package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/recollect/collector/internal/event"
	"golang.org/x/time/rate"
)

// Client is the HTTP implementation of Sink. It rate-limits outbound
// calls so a backfill cannot saturate the catalog service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a Client for the given catalog endpoint. qps <= 0
// disables rate limiting.
func NewClient(endpoint, apiKey string, qps int) (*Client, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid sink URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid sink URL %q: missing host", endpoint)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), qps*2)
	}

	return &Client{
		endpoint: strings.TrimRight(u.String(), "/"),
		apiKey:   apiKey,
		http:     &http.Client{},
		limiter:  limiter,
	}, nil
}

// Ingest implements Sink.
func (c *Client) Ingest(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	payload := map[string]any{"events": events}
	if err := c.postJSON(ctx, "/v1/ingest", payload, &resp); err != nil {
		return fmt.Errorf("ingest %d events: %w", len(events), err)
	}
	return nil
}

// RequestUploadTarget implements Sink.
func (c *Client) RequestUploadTarget(ctx context.Context, path, hash string, size int64) (string, error) {
	req := map[string]any{"path": path, "hash": hash, "size": size}
	var resp struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := c.postJSON(ctx, "/v1/files/upload-target", req, &resp); err != nil {
		return "", fmt.Errorf("request upload target: %w", err)
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("request upload target: empty upload URL")
	}
	return resp.UploadURL, nil
}

// Upload implements Sink. The upload URL is used verbatim; it may point
// at object storage rather than the catalog itself.
func (c *Client) Upload(ctx context.Context, uploadURL string, data []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NotifyFileIngested implements Sink.
func (c *Client) NotifyFileIngested(ctx context.Context, info FileIngested) error {
	if err := c.postJSON(ctx, "/v1/files/ingested", info, nil); err != nil {
		return fmt.Errorf("notify file ingested: %w", err)
	}
	return nil
}

// postJSON sends a JSON body and decodes a JSON response into out (when
// out is non-nil).
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
