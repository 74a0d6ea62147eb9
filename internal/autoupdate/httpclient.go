package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Error variables for HTTP client errors
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts have failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrRequestTimeout is returned when a request times out
	ErrRequestTimeout = errors.New("request timeout")
)

// DefaultUserAgent is sent with every request unless overridden
const DefaultUserAgent = "bucketkit/1.0 (+https://github.com/obentoo/bucketkit)"

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 2)
	MaxRetries int
	// BaseDelay is the initial delay before first retry (default: 1s)
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 4s)
	MaxDelay time.Duration
	// Timeout is the timeout for each individual request (default: 30s)
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
// Uses exponential backoff with delays of 1s, 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// RetryableHTTPClient is an http.RoundTripper that retries failed requests
// with exponential backoff. It is shared by the GitHub client, page fetches
// and downloads, so every upstream request gets the same bounded retry policy.
type RetryableHTTPClient struct {
	base   http.RoundTripper
	config RetryConfig
	// delayFunc replaces the context-aware wait between attempts in tests
	delayFunc func(time.Duration)
	userAgent string

	mu sync.Mutex
	// recordedDelays stores delays for testing purposes
	recordedDelays []time.Duration
}

// NewRetryableHTTPClient creates a new HTTP client with retry support.
// Uses the default retry configuration.
func NewRetryableHTTPClient() *RetryableHTTPClient {
	return NewRetryableHTTPClientWithConfig(DefaultRetryConfig())
}

// NewRetryableHTTPClientWithConfig creates a new HTTP client with custom retry configuration.
func NewRetryableHTTPClientWithConfig(config RetryConfig) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		base:      http.DefaultTransport,
		config:    config,
		userAgent: DefaultUserAgent,
	}
}

// SetTransport sets the underlying transport (useful for testing).
func (c *RetryableHTTPClient) SetTransport(rt http.RoundTripper) {
	c.base = rt
}

// SetDelayFunc sets a custom delay function (useful for testing).
// The function receives the delay duration that would normally be waited.
// A nil function restores the default wait, which ends early when the
// request context is cancelled.
func (c *RetryableHTTPClient) SetDelayFunc(fn func(time.Duration)) {
	c.delayFunc = fn
}

// SetUserAgent sets the User-Agent header applied to requests that carry none.
func (c *RetryableHTTPClient) SetUserAgent(ua string) {
	c.userAgent = ua
}

// GetRecordedDelays returns the delays that were applied between attempts.
func (c *RetryableHTTPClient) GetRecordedDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	delays := make([]time.Duration, len(c.recordedDelays))
	copy(delays, c.recordedDelays)
	return delays
}

func (c *RetryableHTTPClient) recordDelay(d time.Duration) {
	c.mu.Lock()
	c.recordedDelays = append(c.recordedDelays, d)
	c.mu.Unlock()
}

// Config returns the current retry configuration.
func (c *RetryableHTTPClient) Config() RetryConfig {
	return c.config
}

// HTTPClient returns an *http.Client that sends every request through the retry logic.
func (c *RetryableHTTPClient) HTTPClient() *http.Client {
	return c.HTTPClientWithTimeout(c.config.Timeout)
}

// HTTPClientWithTimeout is like HTTPClient with a different overall timeout,
// used for large downloads.
func (c *RetryableHTTPClient) HTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Transport: c, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
// It retries on network errors, 5xx server errors and 429 with exponential backoff.
// Requests with a body that cannot be replayed are sent once.
func (c *RetryableHTTPClient) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Apply delay before retry (not on first attempt)
		if attempt > 0 {
			if !replayable {
				break
			}
			delay := c.calculateDelay(attempt)
			c.recordDelay(delay)
			if err := c.wait(ctx, delay); err != nil {
				return nil, err
			}
		}

		reqCopy := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			reqCopy.Body = body
		}
		if reqCopy.Header.Get("User-Agent") == "" && c.userAgent != "" {
			reqCopy.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.base.RoundTrip(reqCopy)
		if err != nil {
			lastErr = err
			if isTimeoutError(err) {
				lastErr = fmt.Errorf("%w: %v", ErrRequestTimeout, err)
			}
			continue
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.config.MaxRetries {
			if resp.Body != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		// Success, non-retryable status, or the final retryable response:
		// hand it to the caller so status-specific handling still works.
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
	}
	return nil, ErrMaxRetriesExceeded
}

// wait blocks for d or until ctx is done.
func (c *RetryableHTTPClient) wait(ctx context.Context, d time.Duration) error {
	if c.delayFunc != nil {
		c.delayFunc(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay for a given retry attempt.
// Uses exponential backoff: delay = baseDelay * 2^(attempt-1)
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := 1 << (attempt - 1) // 2^(attempt-1): 1, 2, 4, ...
	delay := c.config.BaseDelay * time.Duration(multiplier)

	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	return delay
}

// shouldRetry determines if a request should be retried based on status code.
// Retries on 5xx server errors and 429 (Too Many Requests).
func (c *RetryableHTTPClient) shouldRetry(statusCode int) bool {
	if statusCode >= 500 && statusCode < 600 {
		return true
	}
	return statusCode == http.StatusTooManyRequests
}

// isTimeoutError checks if an error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	type timeoutError interface {
		Timeout() bool
	}
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
