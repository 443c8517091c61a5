package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mantlekit/element/internal/api/middleware"
	"github.com/mantlekit/element/internal/api/render"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/token"
)

// TokenHandler handles /api/v1/token* routes: the HTTP face of the access
// token lifecycle manager.
type TokenHandler struct {
	tokens *token.Manager
	log    *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tm *token.Manager, log *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tm, log: log}
}

// Status handles GET /api/v1/token. Reports the stored offline token for
// the authenticated (user, organization) pair, or null when none exists.
func (h *TokenHandler) Status(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	row, err := h.tokens.Lookup(r.Context(), res.User.ID, res.Organization.ID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			render.JSON(w, http.StatusOK, map[string]any{"tokenInfo": nil})
			return
		}
		h.log.Error("token status failed", "err", err)
		render.Error(w, http.StatusInternalServerError, "internal", "token lookup failed")
		return
	}
	render.JSON(w, http.StatusOK, map[string]any{"tokenInfo": newTokenInfoView(row)})
}

// Exchange handles POST /api/v1/token/exchange: ensure-semantics, an
// existing row is returned without another upstream round-trip.
func (h *TokenHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	row, err := h.tokens.Ensure(r.Context(), res.User.ID, res.Organization.ID, res.SessionToken)
	if err != nil {
		h.renderTokenError(w, err, "token exchange failed")
		return
	}
	render.JSON(w, http.StatusOK, map[string]any{"tokenInfo": newTokenInfoView(row)})
}

// Refresh handles POST /api/v1/token/refresh: redo the exchange for an
// existing row. 404 when nothing has been exchanged yet.
func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	row, err := h.tokens.Refresh(r.Context(), res.User.ID, res.Organization.ID, res.SessionToken)
	if err != nil {
		h.renderTokenError(w, err, "token refresh failed")
		return
	}
	render.JSON(w, http.StatusOK, map[string]any{"tokenInfo": newTokenInfoView(row)})
}

// Revoke handles POST /api/v1/token/revoke. Succeeds whenever a row
// existed to delete, regardless of the upstream revoke outcome.
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	if err := h.tokens.Revoke(r.Context(), res.User.ID, res.Organization.ID); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			render.Error(w, http.StatusNotFound, "token_not_found", "no access token to revoke")
			return
		}
		h.log.Error("token revoke failed", "err", err)
		render.Error(w, http.StatusInternalServerError, "internal", "token revoke failed")
		return
	}
	render.Success(w)
}

// renderTokenError maps lifecycle manager failures onto the API error
// contract: 404 for a missing row, the upstream status for platform
// rejections, 500 for everything else.
func (h *TokenHandler) renderTokenError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, token.ErrNotFound) {
		render.Error(w, http.StatusNotFound, "token_not_found", "no access token has been exchanged yet")
		return
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		render.Error(w, status, "platform_error", apiErr.Message)
		return
	}
	h.log.Error(msg, "err", err)
	render.Error(w, http.StatusInternalServerError, "internal", msg)
}
