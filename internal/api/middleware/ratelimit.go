package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/mantlekit/element/internal/api/render"
)

// RateLimit applies a token-bucket limiter to a route group. Exchange and
// refresh both cost an upstream OAuth round-trip, so they are capped
// instance-wide rather than per caller.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				render.Error(w, http.StatusTooManyRequests,
					"rate_limited", "too many requests, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
