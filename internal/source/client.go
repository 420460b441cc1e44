// Package source provides rate-limited clients for the external systems
// the sync subsystem pulls from.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMinInterval = 150 * time.Millisecond
	defaultMaxRetries  = 3
	defaultRetryAfter  = time.Second
)

// Options configures a Client.
type Options struct {
	// MinInterval is the minimum delay between any two requests issued
	// by this client. Zero means the 150ms default.
	MinInterval time.Duration

	// MaxRetries is the total number of attempts per call when the
	// upstream responds with 429. Zero means the default of 3.
	MaxRetries int

	// Authorize mutates each outgoing request, typically setting an
	// Authorization header.
	Authorize func(*http.Request)

	Timeout time.Duration
}

// Client issues JSON GET requests against one external API, pacing all
// calls through a single rate limiter so the minimum inter-request
// interval holds across callers. One Client per external source.
type Client struct {
	http       *http.Client
	baseURL    string
	authorize  func(*http.Request)
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts Options) *Client {
	interval := opts.MinInterval
	if interval <= 0 {
		interval = defaultMinInterval
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		authorize:  opts.Authorize,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		maxRetries: retries,
	}
}

// GetJSON issues a GET to path with the given query, decoding the JSON
// response into out. 429 responses are retried with a backoff of
// Retry-After scaled by the remaining retry budget; any other error
// status surfaces immediately with the upstream message.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "source: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return eris.Wrap(err, "source: create request")
		}
		req.Header.Set("Accept", "application/json")
		if c.authorize != nil {
			c.authorize(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrapf(err, "source: GET %s", path)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("source: throttled on %s", path)
			remaining := c.maxRetries - attempt
			if remaining == 1 {
				// No attempts left; fail without sleeping out the backoff.
				break
			}
			delay := retryAfter(resp) * time.Duration(remaining)
			zap.L().Warn("source throttled, backing off",
				zap.String("path", path),
				zap.Duration("delay", delay),
				zap.Int("attempts_remaining", remaining),
			)
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return eris.New(fmt.Sprintf("source: GET %s: status %d: %s", path, resp.StatusCode, string(body)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			return eris.Wrapf(err, "source: decode %s", path)
		}
		return nil
	}

	return eris.Wrap(lastErr, "source: retries exhausted")
}

// retryAfter reads the Retry-After hint in seconds, defaulting to 1s.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
