// Package httpretry retries transient failures of outbound HTTP calls to
// the language model endpoints with capped exponential backoff and jitter.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/marketing-analyst/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps a Doer and retries 429 and 5xx gateway responses and
// network errors. Client errors and context cancellation are returned as is.
type Client struct {
	next       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps next. A nil next uses an http.Client with timeout.
func New(next Doer, timeout time.Duration, maxRetries int) *Client {
	if next == nil {
		next = &http.Client{Timeout: timeout}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
}

// Do sends req, retrying up to maxRetries times. The last response is
// returned unread so the caller can decode the provider's error body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: resetting request body: %w", err)
				}
				req.Body = body
			}
			logger.Warn("Retrying model request",
				"attempt", attempt, "max_retries", c.maxRetries, "host", req.URL.Host, "wait", wait.String(), "error", lastErr)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			}
		}

		resp, err := c.next.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			wait = c.backoff(attempt + 1)
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		wait = c.backoff(attempt + 1)
		if ra := retryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			wait = min(ra, c.maxDelay)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is full jitter over baseDelay * 2^(attempt-1), capped at maxDelay,
// with a 50ms floor.
func (c *Client) backoff(attempt int) time.Duration {
	d := math.Min(float64(c.baseDelay)*math.Pow(2, float64(attempt-1)), float64(c.maxDelay))
	return max(time.Duration(rand.Float64()*d), 50*time.Millisecond)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
