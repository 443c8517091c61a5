package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mantlekit/element/internal/api/middleware"
	"github.com/mantlekit/element/internal/api/render"
	"github.com/mantlekit/element/internal/config"
	"github.com/mantlekit/element/internal/resolver"
	"github.com/mantlekit/element/internal/session"
)

// SessionCookieName is the optional httpOnly cookie that can carry a raw
// session token between page loads. Convenience path only; it is not part
// of the trust chain.
const SessionCookieName = "element_session"

// SessionHandler handles /api/v1/session/* routes.
type SessionHandler struct {
	resolver *resolver.Resolver
	sync     *session.Service
	cookie   config.CookieConfig
	log      *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(rv *resolver.Resolver, sync *session.Service, cookie config.CookieConfig, log *slog.Logger) *SessionHandler {
	return &SessionHandler{resolver: rv, sync: sync, cookie: cookie, log: log}
}

// Verify handles POST /api/v1/session/verify. The verified session is
// resolved by the auth middleware; this handler only shapes the response.
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}
	render.JSON(w, http.StatusOK, map[string]any{
		"user":         newUserView(res.User),
		"organization": newOrgView(res.Organization),
	})
}

// Sync handles POST /api/v1/session/sync: the per-page-load orchestration
// that provisions rows, opportunistically refreshes the organization
// credential and fetches the customer API token.
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	token := resolver.FromRequest(r)
	if token == "" {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	res, err := h.sync.Sync(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
			return
		}
		h.log.Error("session sync failed", "err", err)
		render.Error(w, http.StatusInternalServerError, "internal", "session sync failed")
		return
	}

	body := map[string]any{
		"user":         newUserView(res.User),
		"organization": newOrgView(res.Organization),
	}
	if res.CustomerAPIToken != "" {
		body["customerApiToken"] = res.CustomerAPIToken
	}
	render.JSON(w, http.StatusOK, body)
}

// SetCookie handles POST /api/v1/session/cookie. The token is verified
// before it is persisted: an attacker must not be able to plant an
// arbitrary cookie value through this endpoint.
func (h *SessionHandler) SetCookie(w http.ResponseWriter, r *http.Request) {
	res := middleware.SessionFromContext(r.Context())
	if res == nil {
		render.Error(w, http.StatusUnauthorized, "unauthorized", "session token is missing or invalid")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    res.SessionToken,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: sameSite(h.cookie.SameSite),
	})
	render.Success(w)
}

// ClearCookie handles DELETE /api/v1/session/cookie.
func (h *SessionHandler) ClearCookie(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: sameSite(h.cookie.SameSite),
	})
	render.Success(w)
}

func sameSite(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
