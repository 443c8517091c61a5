package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mantlekit/element/internal/api/render"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/resolver"
	"github.com/mantlekit/element/internal/token"
)

// maxPageSize caps the downstream page size regardless of what the caller
// asked for.
const maxPageSize = 10

// CustomersHandler proxies organization-scoped customer reads to the
// platform. It is the strategy router: the stored offline access token is
// tried first, and any failure on that path — including a token whose
// organization was never provisioned locally — falls back to forwarding
// the caller's session token verbatim so the platform can verify it
// itself. Resolution happens inside the handler rather than in middleware
// so that a resolve failure selects the fallback instead of terminating
// the request.
type CustomersHandler struct {
	resolver *resolver.Resolver
	tokens   *token.Manager
	platform *platform.Client
	log      *slog.Logger
}

// NewCustomersHandler creates a CustomersHandler.
func NewCustomersHandler(rv *resolver.Resolver, tm *token.Manager, pc *platform.Client, log *slog.Logger) *CustomersHandler {
	return &CustomersHandler{resolver: rv, tokens: tm, platform: pc, log: log}
}

// List handles GET /api/v1/customers.
func (h *CustomersHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := resolver.FromRequest(r)
	if raw == "" {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	query := shapeQuery(r)

	// Access-token strategy first. Both the payload resolve and the token
	// lookup must succeed; otherwise the fallback forwards the JWT and
	// the platform performs its own verification.
	if res, err := h.resolver.ResolvePayload(r.Context(), raw); err == nil {
		if row, err := h.tokens.Lookup(r.Context(), res.User.ID, res.Organization.ID); err == nil {
			body, err := h.platform.Customers(r.Context(), row.AccessToken, false, query)
			if err == nil {
				render.Raw(w, http.StatusOK, body)
				return
			}
			h.log.Warn("access token strategy failed, falling back to session token forward",
				"organization", res.Organization.MantleID, "err", err)
		}
	} else {
		h.log.Debug("payload resolve failed, forwarding session token", "err", err)
	}

	// Fallback: forward the original session token with the marker header
	// and let the platform verify it.
	body, err := h.platform.Customers(r.Context(), raw, true, query)
	if err != nil {
		h.renderProxyError(w, err)
		return
	}
	render.Raw(w, http.StatusOK, body)
}

// shapeQuery applies the request-shaping rules shared by both strategies:
// page defaults to 1, limit is clamped to maxPageSize, search is trimmed.
func shapeQuery(r *http.Request) platform.CustomerQuery {
	q := platform.CustomerQuery{Page: 1, Limit: maxPageSize}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		q.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		q.Limit = min(v, maxPageSize)
	}
	q.Search = strings.TrimSpace(r.URL.Query().Get("search"))
	return q
}

// renderProxyError mirrors a downstream non-2xx to the caller with the
// same status code plus the downstream response text. Transport faults
// become a 502.
func (h *CustomersHandler) renderProxyError(w http.ResponseWriter, err error) {
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		render.JSON(w, apiErr.StatusCode, map[string]any{
			"error": map[string]any{
				"status": apiErr.StatusCode,
				"body":   string(apiErr.Body),
			},
		})
		return
	}
	h.log.Error("customers proxy failed", "err", err)
	render.Error(w, http.StatusBadGateway, "upstream_unavailable", "platform request failed")
}
