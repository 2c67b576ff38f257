// Package fetch provides the shared outbound HTTP discipline for source
// adapters: rate-limit gating, retry with backoff, and status mapping.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/ratelimit"
)

const (
	maxRetries     = 3
	linearStep     = 1 * time.Second
	backoffBase    = 1 * time.Second
	backoffCap     = 30 * time.Second
	defaultTimeout = 30 * time.Second
)

// ErrNotFound is returned for 404 responses. Callers map it to a domain
// outcome (closed market, missing transcript) rather than a failure.
var ErrNotFound = errors.New("resource not found")

// StatusError is a non-retryable HTTP error response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client wraps an http.Client with a per-host rate-limit gate and the retry
// policy shared by all source adapters.
type Client struct {
	http      *http.Client
	gate      *ratelimit.Gate
	userAgent string
	log       zerolog.Logger
}

// New creates a fetch client. gate may be shared across adapters targeting
// the same host.
func New(gate *ratelimit.Gate, timeout time.Duration, userAgent string, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		gate:      gate,
		userAgent: userAgent,
		log:       log.With().Str("component", "fetch").Logger(),
	}
}

// Get performs a rate-limited GET with retries and returns the response body.
// 429 responses retry with capped exponential delay (Retry-After honored),
// 5xx responses retry linearly, 404 maps to ErrNotFound, other 4xx are
// returned as *StatusError without retrying.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	// One exponential ladder per request: 1s base doubling up to 30s
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = backoffBase
	expo.MaxInterval = backoffCap
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, retryIn, err := c.once(ctx, url, headers, attempt, expo)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if retryIn < 0 {
			// Permanent: 4xx, decode problems, cancelled context
			return nil, err
		}
		if attempt == maxRetries {
			break
		}

		c.log.Debug().
			Str("url", url).
			Int("attempt", attempt+1).
			Dur("delay", retryIn).
			Err(err).
			Msg("Retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryIn):
		}
	}

	return nil, fmt.Errorf("retries exhausted for %s: %w", url, lastErr)
}

// once performs a single attempt. retryIn < 0 marks the error permanent.
// Transient failures wait attempt x 1s; 429 rides the exponential ladder.
func (c *Client) once(ctx context.Context, url string, headers map[string]string, attempt int, expo *backoff.ExponentialBackOff) (body []byte, retryIn time.Duration, err error) {
	linearIn := time.Duration(attempt+1) * linearStep
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		// Network timeouts retry on the linear ladder
		return nil, linearIn, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, linearIn, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		delay := expo.NextBackOff()
		if ra := retryAfter(resp); ra > 0 {
			delay = ra
		}
		if delay > backoffCap {
			delay = backoffCap
		}
		return nil, delay, fmt.Errorf("rate limited by upstream (429)")

	case resp.StatusCode == http.StatusNotFound:
		return nil, -1, fmt.Errorf("%s: %w", url, ErrNotFound)

	case resp.StatusCode >= 500:
		return nil, linearIn, fmt.Errorf("upstream error %d", resp.StatusCode)

	default:
		return nil, -1, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
}

// GetJSON performs Get and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
