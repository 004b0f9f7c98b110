package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures the HTTP client shared by the adapters.
type HTTPConfig struct {
	Timeout   time.Duration // Per-attempt timeout. Default: 10s.
	MaxBytes  int64         // Max response body size. Default: 5MB.
	UserAgent string        // Default: Mozilla/5.0 (feed mirrors block unknown agents).
	Client    *http.Client  // Optional; built from Timeout when nil.
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; resonance/1.0)"
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// get performs one GET and classifies the outcome.
func get(ctx context.Context, cfg HTTPConfig, sourceID, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: sourceID, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: sourceID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBytes))
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: sourceID, Status: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	kind := Unreachable
	if isRateLimit(resp, body) {
		kind = RateLimited
	}
	return nil, &FetchError{
		Kind:     kind,
		SourceID: sourceID,
		Status:   resp.StatusCode,
		Err:      errors.New(http.StatusText(resp.StatusCode)),
	}
}

// isRateLimit recognises explicit throttling: 429, 503 with Retry-After, and
// the 403 "rateLimitExceeded" reason used by search APIs.
func isRateLimit(resp *http.Response, body []byte) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		return resp.Header.Get("Retry-After") != ""
	case http.StatusForbidden:
		return strings.Contains(string(body), "RateLimitExceeded") ||
			strings.Contains(string(body), "rateLimitExceeded")
	}
	return false
}
