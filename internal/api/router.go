// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/mantlekit/element/internal/api/handler"
	"github.com/mantlekit/element/internal/api/middleware"
	"github.com/mantlekit/element/internal/health"
	"github.com/mantlekit/element/internal/resolver"
)

// Handlers groups the handler set the router wires up.
type Handlers struct {
	Health    *health.Handler
	Session   *handler.SessionHandler
	Token     *handler.TokenHandler
	Customers *handler.CustomersHandler
}

// RegisterRoutes registers all application routes on mux. Routes that
// verify the session signature locally use the verified middleware; the
// token and proxy routes run payload-trust because the platform re-checks
// the credential on every downstream call.
func RegisterRoutes(mux *http.ServeMux, rv *resolver.Resolver, h Handlers, exchangeRPS float64, exchangeBurst int) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)

	verified := middleware.RequireVerified(rv)
	payload := middleware.RequirePayload(rv)
	limited := middleware.RateLimit(exchangeRPS, exchangeBurst)

	// Session endpoints
	mux.Handle("POST /api/v1/session/verify", verified(http.HandlerFunc(h.Session.Verify)))
	mux.HandleFunc("POST /api/v1/session/sync", h.Session.Sync)
	mux.Handle("POST /api/v1/session/cookie", verified(http.HandlerFunc(h.Session.SetCookie)))
	mux.HandleFunc("DELETE /api/v1/session/cookie", h.Session.ClearCookie)

	// Token lifecycle endpoints — exchange and refresh cost an upstream
	// OAuth round-trip and are rate limited.
	mux.Handle("GET /api/v1/token", payload(http.HandlerFunc(h.Token.Status)))
	mux.Handle("POST /api/v1/token/exchange", limited(payload(http.HandlerFunc(h.Token.Exchange))))
	mux.Handle("POST /api/v1/token/refresh", limited(payload(http.HandlerFunc(h.Token.Refresh))))
	mux.Handle("POST /api/v1/token/revoke", payload(http.HandlerFunc(h.Token.Revoke)))

	// Resource proxy. Not wrapped in the auth middleware: the handler
	// resolves the token itself so a resolve failure selects the
	// JWT-forward fallback instead of ending the request locally.
	mux.HandleFunc("GET /api/v1/customers", h.Customers.List)

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
