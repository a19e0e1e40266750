package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries = 3
	maxRetryAfterWait = 30 * time.Second
)

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request with exponential backoff retry for
// transient errors (network failures, 5xx, 429). When a rate-limit response
// names a Retry-After, that wait replaces the computed backoff. The request
// body is rebuilt per attempt so retries never reuse a drained reader.
// maxRetries is the number of additional attempts after the first; negative
// values are treated as zero.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), maxRetries int, logger *slog.Logger) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	var wait time.Duration
	var waitKnown bool

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := wait
			if !waitKnown {
				// Exponential backoff with jitter to prevent thundering herd.
				base := time.Duration(attempt*attempt) * time.Second
				backoff = base + time.Duration(rand.Int63n(int64(base/2 + 1)))
			}
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		wait, waitKnown = 0, false

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		// Retry on 5xx server errors and 429 rate-limit.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				wait, waitKnown = retryAfter(resp.Header)
			}
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry",
					"status", resp.StatusCode, "body", string(body))
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

// retryAfter reads the Retry-After header as whole seconds. The second return
// reports whether a usable value was present; the wait is capped so a hostile
// or confused server cannot park the turn.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfterWait {
		d = maxRetryAfterWait
	}
	return d, true
}
