package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds upstream response bodies.
const maxBodyBytes = 10 << 20

// sleep waits for d or until ctx ends. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// statusError is a non-success upstream response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// client is the shared HTTP plumbing behind every provider: a token bucket,
// retry with backoff on 429 and 5xx, and rate limit header tracking.
type client struct {
	name       string
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu        sync.RWMutex
	rateLimit RateLimitStatus
}

func newClient(name string, cfg ClientConfig, logger *zap.Logger) *client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{
		name:       name,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     logger.With(zap.String("provider", name)),
		rateLimit:  RateLimitStatus{Remaining: -1, Limit: -1},
	}
}

// RateLimit returns the last reported upstream rate limit.
func (c *client) RateLimit() RateLimitStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimit
}

// get fetches rawURL, retrying transient failures.
func (c *client) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		body, retry, err := c.do(ctx, rawURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		c.logger.Debug("Retrying upstream request",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.config.RetryCount+1, lastErr)
}

func (c *client) do(ctx context.Context, rawURL string, headers map[string]string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are retried unless the caller gave up.
		return nil, ctx.Err() == nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		serr := &statusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, serr
	}
	return body, false, nil
}

// getJSON fetches rawURL and decodes the JSON body into out.
func (c *client) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	body, err := c.get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *client) backoff(attempt int, lastErr error) time.Duration {
	if serr, ok := lastErr.(*statusError); ok && serr.StatusCode == http.StatusTooManyRequests {
		c.mu.RLock()
		resetAt := c.rateLimit.ResetAt
		c.mu.RUnlock()
		if wait := time.Until(resetAt); wait > 0 && wait < 30*time.Second {
			return wait
		}
	}
	return time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
}

// updateRateLimit records X-RateLimit-* headers. Reddit reports floats and a
// reset in seconds; other APIs report a unix timestamp.
func (c *client) updateRateLimit(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	limit := resp.Header.Get("X-RateLimit-Limit")
	reset := resp.Header.Get("X-RateLimit-Reset")
	if remaining == "" && limit == "" && reset == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, err := strconv.ParseFloat(remaining, 64); err == nil {
		c.rateLimit.Remaining = int(v)
	}
	if v, err := strconv.ParseFloat(limit, 64); err == nil {
		c.rateLimit.Limit = int(v)
	}
	if v, err := strconv.ParseFloat(reset, 64); err == nil {
		if v < 1e9 {
			c.rateLimit.ResetAt = time.Now().Add(time.Duration(v * float64(time.Second)))
		} else {
			c.rateLimit.ResetAt = time.Unix(int64(v), 0)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
