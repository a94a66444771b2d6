package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client implements Recognizer against a local recognition service that
// accepts raw image bytes and returns a JSON result.
type Client struct {
	endpoint  string
	http      *http.Client
	languages []string
}

// NewClient creates a Client for the given service URL.
func NewClient(endpoint string) (*Client, error) {
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid recognizer URL %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid recognizer URL %q: missing host", endpoint)
	}
	return &Client{
		endpoint: strings.TrimRight(u.String(), "/"),
		http:     &http.Client{},
	}, nil
}

// Recognize posts the image to the service's /recognize endpoint.
// Preferred languages are passed as a comma-separated query parameter.
func (c *Client) Recognize(ctx context.Context, image []byte, languages []string) (*Result, error) {
	start := time.Now()

	reqURL := c.endpoint + "/recognize"
	if len(languages) > 0 {
		reqURL += "?languages=" + url.QueryEscape(strings.Join(languages, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("recognize: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("recognize: decode response: %w", err)
	}
	if result.TimingMS == 0 {
		result.TimingMS = time.Since(start).Milliseconds()
	}
	return &result, nil
}
