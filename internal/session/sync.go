// Package session orchestrates the per-page-load session sync: upsert the
// organization and user named by the inbound session token, keep the
// organization's exchanged credentials fresh, and fetch the customer API
// token once. Opportunistic steps never block the page load; their
// failures are logged and swallowed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mantlekit/element/internal/model"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/sessiontoken"
	"github.com/mantlekit/element/internal/store"
	"github.com/mantlekit/element/internal/token"
)

// ErrUnauthorized is returned when the inbound token cannot be decoded.
var ErrUnauthorized = errors.New("unauthorized")

// Identifier is the subset of the platform client the sync needs beyond
// the token manager.
type Identifier interface {
	Identify(ctx context.Context, sessionToken string) (*platform.IdentifyResponse, error)
}

// Result is the resolved triple returned to the page.
type Result struct {
	User             *model.User
	Organization     *model.Organization
	CustomerAPIToken string
}

// Service runs the session sync.
type Service struct {
	store    *store.Store
	tokens   *token.Manager
	identify Identifier
	log      *slog.Logger
}

// New creates a Service.
func New(st *store.Store, tm *token.Manager, id Identifier, log *slog.Logger) *Service {
	return &Service{store: st, tokens: tm, identify: id, log: log}
}

// Sync processes one authenticated page load. Steps 1-3 (upserts) are
// load-bearing and fail the sync; steps 4-5 (exchange, identify) are
// opportunistic and degrade to warnings so the page loads with whatever
// credential state already existed.
func (s *Service) Sync(ctx context.Context, rawToken string) (*Result, error) {
	claims, err := sessiontoken.Decode(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.OrganizationID == "" {
		return nil, ErrUnauthorized
	}

	org, err := s.store.UpsertOrganization(ctx, claims.OrganizationID, "")
	if err != nil {
		return nil, fmt.Errorf("sync organization: %w", err)
	}

	user, err := s.store.UpsertUser(ctx, claims.User.ID, claims.User.Email, claims.User.Name)
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}

	if err := s.store.EnsureUserOrganization(ctx, user.ID, org.ID); err != nil {
		return nil, fmt.Errorf("sync association: %w", err)
	}

	if s.tokens.NeedsExchange(org) {
		if err := s.tokens.ExchangeForOrganization(ctx, org, rawToken); err != nil {
			s.log.Warn("opportunistic token exchange failed", "org", org.MantleID, "err", err)
		}
	}

	if org.APIToken == nil {
		if resp, err := s.identify.Identify(ctx, rawToken); err != nil {
			s.log.Warn("customer identify failed", "org", org.MantleID, "err", err)
		} else if err := s.store.SetOrganizationAPIToken(ctx, org, resp.APIToken); err != nil {
			s.log.Warn("persist customer api token failed", "org", org.MantleID, "err", err)
		}
	}

	res := &Result{User: user, Organization: org}
	if org.APIToken != nil {
		res.CustomerAPIToken = *org.APIToken
	}
	return res, nil
}
