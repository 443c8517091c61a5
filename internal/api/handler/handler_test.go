package handler_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mantlekit/element/internal/api"
	"github.com/mantlekit/element/internal/api/handler"
	"github.com/mantlekit/element/internal/config"
	"github.com/mantlekit/element/internal/health"
	"github.com/mantlekit/element/internal/model"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/resolver"
	"github.com/mantlekit/element/internal/session"
	"github.com/mantlekit/element/internal/sessiontoken"
	"github.com/mantlekit/element/internal/store"
	"github.com/mantlekit/element/internal/token"
)

const orgSecret = "org-signing-secret"

// upstream is a scripted platform backend.
type upstream struct {
	srv *httptest.Server

	exchanges    atomic.Int64
	revokes      atomic.Int64
	customersErr atomic.Bool

	lastCustomersAuth   string
	lastCustomersMarker string
	lastCustomersQuery  string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		u.exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"offline-token","scope":"read:apps"}`))
	})
	mux.HandleFunc("POST /oauth/revoke", func(w http.ResponseWriter, _ *http.Request) {
		u.revokes.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/identify", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"apiToken":"cust-api-token"}`))
	})
	mux.HandleFunc("GET /api/customers", func(w http.ResponseWriter, r *http.Request) {
		u.lastCustomersAuth = r.Header.Get("Authorization")
		u.lastCustomersMarker = r.Header.Get(platform.SessionTokenAuthHeader)
		u.lastCustomersQuery = r.URL.RawQuery
		if u.customersErr.Load() {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":"plan required"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"customers":[{"id":"c-1"}]}`))
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

type fixture struct {
	mux      *http.ServeMux
	store    *store.Store
	upstream *upstream
	org      *model.Organization
	user     *model.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Organization{}, &model.User{},
		&model.UserOrganization{}, &model.UserAccessToken{},
	))

	org := &model.Organization{MantleID: "org-1", Name: "Acme", AccessToken: orgSecret}
	require.NoError(t, db.Create(org).Error)
	user := &model.User{Email: "ada@example.com", Name: "Ada"}
	require.NoError(t, db.Create(user).Error)

	u := newUpstream(t)
	log := slog.New(slog.DiscardHandler)
	st := store.New(db)
	pc := platform.New(u.srv.URL, "client-id", "client-secret", platform.WithRetry(1, time.Millisecond))
	tokens := token.New(st, pc, "read:apps,read:customers,write:customers", log)
	rv := resolver.New(st, log)
	sync := session.New(st, tokens, pc, log)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, rv, api.Handlers{
		Health:    health.New(nil),
		Session:   handler.NewSessionHandler(rv, sync, config.CookieConfig{MaxAge: time.Hour, SameSite: "lax", Secure: true}, log),
		Token:     handler.NewTokenHandler(tokens, log),
		Customers: handler.NewCustomersHandler(rv, tokens, pc, log),
	}, 1000, 1000)

	return &fixture{mux: mux, store: st, upstream: u, org: org, user: user}
}

func (f *fixture) request(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func sessionTokenFor(t *testing.T, email, orgMantleID, secret string) string {
	t.Helper()
	claims := sessiontoken.NewClaims(sessiontoken.UserClaim{
		ID: "ext-1", Email: email, Name: "Ada",
	}, orgMantleID, time.Minute)
	tok, err := sessiontoken.Sign(claims, secret)
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSessionVerify(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodPost, "/api/v1/session/verify", tok)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	org := body["organization"].(map[string]any)
	assert.Equal(t, "org-1", org["mantleId"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])
}

func TestSessionVerify_WrongSignature(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", "wrong-secret")

	w := f.request(t, http.MethodPost, "/api/v1/session/verify", tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionSync(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "new@example.com", "org-2", "whatever")

	w := f.request(t, http.MethodPost, "/api/v1/session/sync", tok)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	org := body["organization"].(map[string]any)
	assert.Equal(t, "org-2", org["mantleId"])
	assert.Equal(t, "cust-api-token", body["customerApiToken"])

	// Sync provisioned the organization and ran the opportunistic exchange.
	assert.GreaterOrEqual(t, f.upstream.exchanges.Load(), int64(1))
}

func TestSessionSync_NoToken(t *testing.T) {
	f := setup(t)
	w := f.request(t, http.MethodPost, "/api/v1/session/sync", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenStatus_NullBeforeExchange(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodGet, "/api/v1/token", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["tokenInfo"])
}

func TestTokenExchange_ThenStatus(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodPost, "/api/v1/token/exchange", tok)
	require.Equal(t, http.StatusOK, w.Code)

	info := decode(t, w)["tokenInfo"].(map[string]any)
	assert.Equal(t, "offline-token", info["accessToken"])
	assert.Equal(t, model.TokenTypeOffline, info["tokenType"])
	assert.Nil(t, info["expiresAt"])

	// Second exchange is ensure-semantics: same row, no upstream call.
	before := f.upstream.exchanges.Load()
	w = f.request(t, http.MethodPost, "/api/v1/token/exchange", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before, f.upstream.exchanges.Load())

	w = f.request(t, http.MethodGet, "/api/v1/token", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode(t, w)["tokenInfo"])
}

func TestTokenRefresh_RequiresExistingRow(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodPost, "/api/v1/token/refresh", tok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, f.request(t, http.MethodPost, "/api/v1/token/exchange", tok).Code)

	w = f.request(t, http.MethodPost, "/api/v1/token/refresh", tok)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)["tokenInfo"].(map[string]any)
	assert.Equal(t, "offline-token", info["accessToken"])
}

func TestTokenRevoke(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	// Nothing to revoke yet.
	w := f.request(t, http.MethodPost, "/api/v1/token/revoke", tok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, f.request(t, http.MethodPost, "/api/v1/token/exchange", tok).Code)

	w = f.request(t, http.MethodPost, "/api/v1/token/revoke", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true}, decode(t, w))
	assert.Equal(t, int64(1), f.upstream.revokes.Load())

	// Row is gone.
	w = f.request(t, http.MethodGet, "/api/v1/token", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["tokenInfo"])
}

func TestCustomers_AccessTokenStrategy(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)
	require.Equal(t, http.StatusOK, f.request(t, http.MethodPost, "/api/v1/token/exchange", tok).Code)

	w := f.request(t, http.MethodGet, "/api/v1/customers?page=2&limit=50&search=%20acme%20", tok)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Bearer offline-token", f.upstream.lastCustomersAuth)
	assert.Empty(t, f.upstream.lastCustomersMarker)
	// limit clamped to 10, search trimmed
	assert.Contains(t, f.upstream.lastCustomersQuery, "limit=10")
	assert.Contains(t, f.upstream.lastCustomersQuery, "page=2")
	assert.Contains(t, f.upstream.lastCustomersQuery, "search=acme")
	assert.JSONEq(t, `{"customers":[{"id":"c-1"}]}`, w.Body.String())
}

func TestCustomers_FallsBackToSessionTokenForward(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	// No exchanged token exists: the proxy must forward the session JWT
	// with the marker header.
	w := f.request(t, http.MethodGet, "/api/v1/customers", tok)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Bearer "+tok, f.upstream.lastCustomersAuth)
	assert.Equal(t, "true", f.upstream.lastCustomersMarker)
}

func TestCustomers_UnknownOrgForwardsSessionToken(t *testing.T) {
	f := setup(t)
	// The organization in the claims has no local row: the proxy must
	// still reach the platform via the JWT-forward strategy, not answer
	// with a local 404.
	tok := sessionTokenFor(t, "ada@example.com", "org-unprovisioned", orgSecret)

	w := f.request(t, http.MethodGet, "/api/v1/customers", tok)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Bearer "+tok, f.upstream.lastCustomersAuth)
	assert.Equal(t, "true", f.upstream.lastCustomersMarker)
	assert.JSONEq(t, `{"customers":[{"id":"c-1"}]}`, w.Body.String())
}

func TestCustomers_MalformedTokenForwardsVerbatim(t *testing.T) {
	f := setup(t)
	// Undecodable bearer: local resolution fails, the platform gets to
	// verify (and reject) the credential itself.
	w := f.request(t, http.MethodGet, "/api/v1/customers", "not-a-jwt")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Bearer not-a-jwt", f.upstream.lastCustomersAuth)
	assert.Equal(t, "true", f.upstream.lastCustomersMarker)
}

func TestCustomers_MissingHeader(t *testing.T) {
	f := setup(t)
	w := f.request(t, http.MethodGet, "/api/v1/customers", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.upstream.lastCustomersAuth)
}

func TestCustomers_MirrorsDownstreamFailure(t *testing.T) {
	f := setup(t)
	f.upstream.customersErr.Store(true)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodGet, "/api/v1/customers", tok)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	errBody := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, float64(http.StatusPaymentRequired), errBody["status"])
	assert.Contains(t, errBody["body"], "plan required")
}

func TestSessionCookie_SetAndClear(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", orgSecret)

	w := f.request(t, http.MethodPost, "/api/v1/session/cookie", tok)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, handler.SessionCookieName, c.Name)
	assert.Equal(t, tok, c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	w = f.request(t, http.MethodDelete, "/api/v1/session/cookie", "")
	require.Equal(t, http.StatusOK, w.Code)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestSessionCookie_RejectsUnverifiedToken(t *testing.T) {
	f := setup(t)
	tok := sessionTokenFor(t, "ada@example.com", "org-1", "attacker-key")

	w := f.request(t, http.MethodPost, "/api/v1/session/cookie", tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
