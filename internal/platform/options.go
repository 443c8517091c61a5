package platform

import (
	"net/http"
	"time"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultRetryMax     = 3
	defaultRetryBackoff = 250 * time.Millisecond
)

// Option configures the Client.
type Option func(*options)

// options holds the configuration for the Client.
type options struct {
	timeout      time.Duration
	retryMax     int
	retryBackoff time.Duration
	httpClient   *http.Client // overrides timeout when set
}

func defaultOptions() *options {
	return &options{
		timeout:      defaultTimeout,
		retryMax:     defaultRetryMax,
		retryBackoff: defaultRetryBackoff,
	}
}

// WithTimeout sets the HTTP client timeout. Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry sets the maximum attempt count and initial backoff for
// retryable upstream failures. A max of 1 disables retries.
func WithRetry(max int, backoff time.Duration) Option {
	return func(o *options) {
		if max > 0 {
			o.retryMax = max
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithHTTPClient sets a custom HTTP client; the caller owns its timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}
