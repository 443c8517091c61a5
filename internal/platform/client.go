// Package platform is the HTTP client for the hosting platform's OAuth and
// customer endpoints: RFC 8693-style token exchange, RFC 7009 revocation,
// customer identification and the downstream customers resource.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	grantTypeTokenExchange  = "urn:ietf:params:oauth:grant-type:token-exchange"
	subjectTokenTypeIDToken = "urn:ietf:params:oauth:token-type:id_token"
	requestedTokenType      = "urn:mantle:params:oauth:token-type:offline-access-token"

	// SessionTokenAuthHeader marks a forwarded request as session-token
	// authenticated so the platform verifies the JWT itself.
	SessionTokenAuthHeader = "X-Mantle-Session-Token-Auth"

	// nonExpiringHorizon is the sentinel applied to refresh tokens that
	// arrive with no expiry at all. Kept far in the future to preserve
	// "non-expiring" semantics downstream.
	nonExpiringHorizon = 99 * 365 * 24 * time.Hour

	maxResponseSize = 10 * 1024 * 1024
)

// Timestamp accepts both Unix seconds and RFC3339 strings. The token
// endpoint has returned either depending on platform version.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var secs int64
	if err := json.Unmarshal(data, &secs); err == nil {
		t.Time = time.Unix(secs, 0)
		return nil
	}
	return json.Unmarshal(data, &t.Time)
}

// TokenResponse is the token endpoint's success payload. Expiry may arrive
// in any of three shapes; use AccessExpiry/RefreshExpiry rather than
// reading the fields directly.
type TokenResponse struct {
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	ExpiresIn             *int64     `json:"expires_in,omitempty"`
	RefreshTokenExpiresIn *int64     `json:"refresh_token_expires_in,omitempty"`
	RefreshTokenExpiresAt *Timestamp `json:"refresh_token_expires_at,omitempty"`
	Scope                 string     `json:"scope,omitempty"`
	TokenType             string     `json:"token_type,omitempty"`
}

// AccessExpiry converts expires_in to an absolute time. Nil means the
// access token does not expire.
func (r *TokenResponse) AccessExpiry(now time.Time) *time.Time {
	if r.ExpiresIn == nil {
		return nil
	}
	t := now.Add(time.Duration(*r.ExpiresIn) * time.Second)
	return &t
}

// RefreshExpiry normalises the refresh token expiry: an absolute timestamp
// wins, then a relative offset, then the effectively-infinite horizon when
// a refresh token is present with neither. Nil when there is no refresh
// token at all.
func (r *TokenResponse) RefreshExpiry(now time.Time) *time.Time {
	if r.RefreshTokenExpiresAt != nil {
		t := r.RefreshTokenExpiresAt.Time
		return &t
	}
	if r.RefreshTokenExpiresIn != nil {
		t := now.Add(time.Duration(*r.RefreshTokenExpiresIn) * time.Second)
		return &t
	}
	if r.RefreshToken != "" {
		t := now.Add(nonExpiringHorizon)
		return &t
	}
	return nil
}

// Client talks to the platform. It is safe for concurrent use.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	opts         *options
}

// New creates a platform Client. baseURL, clientID and clientSecret are
// validated at config load; they are trusted here.
func New(baseURL, clientID, clientSecret string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		opts:         o,
	}
}

// ExchangeSessionToken trades a short-lived session token for a long-lived
// offline access token. Non-2xx responses and 2xx bodies carrying an
// "error" member both fail with an *APIError preserving status and body.
// Retrying a failed exchange is the caller's decision.
func (c *Client) ExchangeSessionToken(ctx context.Context, sessionToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("subject_token", sessionToken)
	form.Set("subject_token_type", subjectTokenTypeIDToken)
	form.Set("requested_token_type", requestedTokenType)

	body, status, err := c.postForm(ctx, c.baseURL+"/api/oauth/token", form)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if hasErrorField(body) {
		return nil, fmt.Errorf("token exchange: %w", newAPIError(status, body))
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("token exchange: decode response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token exchange: %w", newAPIError(status, body))
	}
	return &resp, nil
}

// Revoke asks the platform to revoke a token. Per RFC 7009 the endpoint
// answers 200 regardless, so the response status is ignored; a transport
// error is returned for logging only and never blocks local deletion.
func (c *Client) Revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	_, _, err := c.postForm(ctx, c.baseURL+"/oauth/revoke", form)
	if err != nil {
		var apiErr *APIError
		// Upstream status is deliberately ignored.
		if errors.As(err, &apiErr) {
			return nil
		}
		return fmt.Errorf("revoke: %w", err)
	}
	return nil
}

// IdentifyResponse is the customer-identification payload.
type IdentifyResponse struct {
	APIToken string `json:"apiToken"`
}

// Identify calls the customer-identification endpoint once per
// organization, returning the customer API token.
func (c *Client) Identify(ctx context.Context, sessionToken string) (*IdentifyResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("session_token", sessionToken)

	body, _, err := c.postForm(ctx, c.baseURL+"/api/identify", form)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	var resp IdentifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("identify: decode response: %w", err)
	}
	if resp.APIToken == "" {
		return nil, fmt.Errorf("identify: empty apiToken in response")
	}
	return &resp, nil
}

// CustomerQuery shapes a customers request. Values are expected to be
// sanitized by the caller.
type CustomerQuery struct {
	Page   int
	Limit  int
	Search string
}

// Customers fetches the downstream customers resource with the given
// bearer credential. When sessionTokenAuth is set, the marker header tells
// the platform to verify the bearer as a session JWT. Non-2xx responses
// become an *APIError mirroring the downstream status and body.
func (c *Client) Customers(ctx context.Context, bearer string, sessionTokenAuth bool, q CustomerQuery) (json.RawMessage, error) {
	query := url.Values{}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}

	endpoint := c.baseURL + "/api/customers"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("customers: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if sessionTokenAuth {
		req.Header.Set(SessionTokenAuthHeader, "true")
	}

	body, status, err := c.do(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("customers: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("customers: %w", newAPIError(status, body))
	}
	return body, nil
}

// postForm issues a form-encoded POST and returns the body for any 2xx
// response; other statuses are reported as *APIError after retries.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	encoded := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}

	body, status, err := c.do(ctx, req, []byte(encoded))
	if err != nil {
		return nil, status, err
	}
	if status < 200 || status >= 300 {
		return nil, status, newAPIError(status, body)
	}
	return body, status, nil
}
