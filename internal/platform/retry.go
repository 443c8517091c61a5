package platform

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// do executes a request with exponential backoff on retryable failures:
// network errors and 408/429/5xx statuses. 4xx responses other than 408/429
// are returned immediately — retrying a rejected exchange cannot succeed.
func (c *Client) do(ctx context.Context, req *http.Request, body []byte) ([]byte, int, error) {
	var lastErr error
	backoff := c.opts.retryBackoff

	for attempt := 0; attempt < c.opts.retryMax; attempt++ {
		if body != nil && req.GetBody != nil {
			newBody, err := req.GetBody()
			if err != nil {
				return nil, 0, err
			}
			req.Body = newBody
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !c.shouldRetry(ctx, attempt, backoff) {
				return nil, 0, lastErr
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			drained, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			_ = resp.Body.Close()

			lastErr = newAPIError(resp.StatusCode, drained)
			if !c.shouldRetry(ctx, attempt, backoff) {
				return drained, resp.StatusCode, lastErr
			}
			backoff = nextBackoff(backoff)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, err
		}
		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

// shouldRetry waits out the backoff, respecting context cancellation, and
// reports whether another attempt is allowed.
func (c *Client) shouldRetry(ctx context.Context, attempt int, backoff time.Duration) bool {
	if attempt >= c.opts.retryMax-1 {
		return false
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the backoff and adds 0-50% jitter. Backoffs below
// 2ns have no room for jitter (rand.Int64N requires a positive bound).
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if half := int64(current / 2); half > 0 {
		next += time.Duration(rand.Int64N(half))
	}
	return next
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
