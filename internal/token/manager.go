// Package token orchestrates the offline access token lifecycle per
// (user, organization) pair: exchange on first need, refresh by redoing the
// exchange, delete on revoke. State per pair moves
// Absent -> Exchanging -> Active -> Refreshing -> Active | Revoked.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mantlekit/element/internal/model"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/store"
)

// ErrNotFound is returned by Refresh and Revoke when no offline token row
// exists for the pair.
var ErrNotFound = errors.New("no offline access token")

// expiryBuffer is how close to expiry an organization access token may get
// before the ambient session sync redoes the exchange.
const expiryBuffer = 5 * time.Minute

// Exchanger is the subset of the platform client the manager needs.
type Exchanger interface {
	ExchangeSessionToken(ctx context.Context, sessionToken string) (*platform.TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}

// Manager drives offline token state transitions against the credential
// store and the platform token endpoint.
type Manager struct {
	store        *store.Store
	platform     Exchanger
	log          *slog.Logger
	defaultScope string
	now          func() time.Time
}

// New creates a Manager. defaultScope is applied when the exchange response
// omits a scope.
func New(st *store.Store, pc Exchanger, defaultScope string, log *slog.Logger) *Manager {
	return &Manager{
		store:        st,
		platform:     pc,
		log:          log,
		defaultScope: defaultScope,
		now:          time.Now,
	}
}

// Lookup returns the pair's stored offline token without side effects.
// ErrNotFound when nothing has been exchanged yet.
func (m *Manager) Lookup(ctx context.Context, userID, organizationID string) (*model.UserAccessToken, error) {
	row, err := m.store.UserAccessToken(ctx, userID, organizationID, model.TokenTypeOffline)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return row, err
}

// Ensure returns the pair's offline token, performing the exchange and
// persisting a new row when none exists. Offline rows are written with a
// nil expiry and nil refresh token: refresh means redoing the exchange.
// A concurrent Ensure losing the create race gets the winner's row.
func (m *Manager) Ensure(ctx context.Context, userID, organizationID, sessionToken string) (*model.UserAccessToken, error) {
	existing, err := m.store.UserAccessToken(ctx, userID, organizationID, model.TokenTypeOffline)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	resp, err := m.platform.ExchangeSessionToken(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("ensure offline token: %w", err)
	}

	row := &model.UserAccessToken{
		UserID:         userID,
		OrganizationID: organizationID,
		TokenType:      model.TokenTypeOffline,
		AccessToken:    resp.AccessToken,
		Scope:          m.scopeOrDefault(resp.Scope),
	}
	created, err := m.store.CreateUserAccessToken(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("ensure offline token: %w", err)
	}
	return created, nil
}

// Refresh redoes the exchange with a fresh session token and overwrites the
// existing row. Fails with ErrNotFound when no row exists yet.
func (m *Manager) Refresh(ctx context.Context, userID, organizationID, sessionToken string) (*model.UserAccessToken, error) {
	row, err := m.store.UserAccessToken(ctx, userID, organizationID, model.TokenTypeOffline)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp, err := m.platform.ExchangeSessionToken(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("refresh offline token: %w", err)
	}

	row.AccessToken = resp.AccessToken
	if resp.Scope != "" {
		row.Scope = resp.Scope
	}
	if err := m.store.UpdateUserAccessToken(ctx, row); err != nil {
		return nil, fmt.Errorf("refresh offline token: %w", err)
	}
	return row, nil
}

// Revoke deletes the pair's offline token. The upstream revoke endpoint is
// notified but its result is deliberately ignored (RFC 7009: the endpoint
// answers 200 regardless); a transport failure is logged and the local row
// is deleted either way. Fails with ErrNotFound only when there was
// nothing to delete.
func (m *Manager) Revoke(ctx context.Context, userID, organizationID string) error {
	row, err := m.store.UserAccessToken(ctx, userID, organizationID, model.TokenTypeOffline)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if rerr := m.platform.Revoke(ctx, row.AccessToken); rerr != nil {
		m.log.Warn("upstream revoke failed", "err", rerr)
	}

	if derr := m.store.DeleteUserAccessToken(ctx, userID, organizationID, model.TokenTypeOffline); derr != nil && !errors.Is(derr, store.ErrNotFound) {
		return derr
	}
	return nil
}

// NeedsExchange decides whether the ambient session sync should redo the
// organization-level exchange: no token, a session JWT stored where an
// access token belongs, or expiry inside the buffer.
func (m *Manager) NeedsExchange(org *model.Organization) bool {
	if org.AccessToken == "" {
		return true
	}
	// A stored value starting with "eyJ" is a session token that was
	// mistakenly persisted as an access token and must be replaced.
	if strings.HasPrefix(org.AccessToken, "eyJ") {
		return true
	}
	if org.AccessTokenExpiresAt != nil && org.AccessTokenExpiresAt.Before(m.now().Add(expiryBuffer)) {
		return true
	}
	return false
}

// ExchangeForOrganization redoes the organization-level exchange and
// persists the resulting credential set on the organization row.
func (m *Manager) ExchangeForOrganization(ctx context.Context, org *model.Organization, sessionToken string) error {
	resp, err := m.platform.ExchangeSessionToken(ctx, sessionToken)
	if err != nil {
		return fmt.Errorf("organization exchange: %w", err)
	}
	now := m.now()
	tokens := store.OrganizationTokens{
		AccessToken:           resp.AccessToken,
		AccessTokenExpiresAt:  resp.AccessExpiry(now),
		RefreshTokenExpiresAt: resp.RefreshExpiry(now),
	}
	if resp.RefreshToken != "" {
		tokens.RefreshToken = &resp.RefreshToken
	}
	if err := m.store.UpdateOrganizationTokens(ctx, org, tokens); err != nil {
		return fmt.Errorf("organization exchange: %w", err)
	}
	return nil
}

func (m *Manager) scopeOrDefault(scope string) string {
	if scope != "" {
		return scope
	}
	return m.defaultScope
}

// WithClock overrides the manager's time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}
