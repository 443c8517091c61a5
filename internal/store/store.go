// Package store is the credential store: a GORM-backed repository for
// Organization, User and token rows. All writes are keyed by natural
// identity and are idempotent; a unique-constraint violation from a
// concurrent create is resolved by re-reading the now-existing row rather
// than surfaced to the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mantlekit/element/internal/model"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps a *gorm.DB with the repository operations the authentication
// core needs.
type Store struct {
	db *gorm.DB
}

// New creates a Store backed by the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// isDuplicate reports whether err is a unique-constraint violation. GORM
// translates these to ErrDuplicatedKey for both drivers when TranslateError
// is enabled; the string checks cover paths the translator misses.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key value")
}

// ---- Organizations --------------------------------------------------------

// OrganizationByMantleID resolves an organization by its external platform
// id. Returns ErrNotFound if no row exists.
func (s *Store) OrganizationByMantleID(ctx context.Context, mantleID string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.WithContext(ctx).Where("mantle_id = ?", mantleID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return &org, nil
}

// UpsertOrganization creates the organization on first sight and patches
// the name when an authoritative payload disagrees with the stored value.
func (s *Store) UpsertOrganization(ctx context.Context, mantleID, name string) (*model.Organization, error) {
	org, err := s.OrganizationByMantleID(ctx, mantleID)
	if errors.Is(err, ErrNotFound) {
		org = &model.Organization{MantleID: mantleID, Name: name}
		if cerr := s.db.WithContext(ctx).Create(org).Error; cerr != nil {
			if isDuplicate(cerr) {
				// Lost the create race; the row exists now.
				return s.OrganizationByMantleID(ctx, mantleID)
			}
			return nil, fmt.Errorf("create organization: %w", cerr)
		}
		return org, nil
	}
	if err != nil {
		return nil, err
	}
	if name != "" && org.Name != name {
		org.Name = name
		if uerr := s.db.WithContext(ctx).Model(org).Update("name", name).Error; uerr != nil {
			return nil, fmt.Errorf("update organization name: %w", uerr)
		}
	}
	return org, nil
}

// OrganizationTokens holds the credential fields written after a successful
// token exchange or refresh.
type OrganizationTokens struct {
	AccessToken           string
	RefreshToken          *string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
}

// UpdateOrganizationTokens overwrites the organization's platform
// credentials. Last write wins on concurrent refreshes.
func (s *Store) UpdateOrganizationTokens(ctx context.Context, org *model.Organization, tokens OrganizationTokens) error {
	updates := map[string]any{
		"access_token":             tokens.AccessToken,
		"refresh_token":            tokens.RefreshToken,
		"access_token_expires_at":  tokens.AccessTokenExpiresAt,
		"refresh_token_expires_at": tokens.RefreshTokenExpiresAt,
	}
	if err := s.db.WithContext(ctx).Model(org).Updates(updates).Error; err != nil {
		return fmt.Errorf("update organization tokens: %w", err)
	}
	org.AccessToken = tokens.AccessToken
	org.RefreshToken = tokens.RefreshToken
	org.AccessTokenExpiresAt = tokens.AccessTokenExpiresAt
	org.RefreshTokenExpiresAt = tokens.RefreshTokenExpiresAt
	return nil
}

// SetOrganizationAPIToken persists the customer-identification token.
func (s *Store) SetOrganizationAPIToken(ctx context.Context, org *model.Organization, apiToken string) error {
	if err := s.db.WithContext(ctx).Model(org).Update("api_token", apiToken).Error; err != nil {
		return fmt.Errorf("update organization api token: %w", err)
	}
	org.APIToken = &apiToken
	return nil
}

// ---- Users ----------------------------------------------------------------

// userByExternalID resolves a user by the platform user id.
func (s *Store) userByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("user_id = ?", externalID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by external id: %w", err)
	}
	return &u, nil
}

// UserByEmail resolves a user by email, the backstop natural key.
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &u, nil
}

// UpsertUser resolves a user by external id first, email second, creating
// the row lazily on first successful authentication. Fields are patched,
// not replaced, when the authoritative payload disagrees.
func (s *Store) UpsertUser(ctx context.Context, externalID, email, name string) (*model.User, error) {
	var u *model.User
	var err error
	if externalID != "" {
		u, err = s.userByExternalID(ctx, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if u == nil && email != "" {
		u, err = s.UserByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if u == nil {
		u = &model.User{Email: email, Name: name}
		if externalID != "" {
			u.UserID = &externalID
		}
		if cerr := s.db.WithContext(ctx).Create(u).Error; cerr != nil {
			if isDuplicate(cerr) {
				return s.UserByEmail(ctx, email)
			}
			return nil, fmt.Errorf("create user: %w", cerr)
		}
		return u, nil
	}

	updates := map[string]any{}
	if externalID != "" && (u.UserID == nil || *u.UserID != externalID) {
		u.UserID = &externalID
		updates["user_id"] = externalID
	}
	if email != "" && u.Email != email {
		u.Email = email
		updates["email"] = email
	}
	if name != "" && u.Name != name {
		u.Name = name
		updates["name"] = name
	}
	if len(updates) > 0 {
		if uerr := s.db.WithContext(ctx).Model(u).Updates(updates).Error; uerr != nil {
			return nil, fmt.Errorf("update user: %w", uerr)
		}
	}
	return u, nil
}

// EnsureUserOrganization idempotently records that the user has been seen
// under the organization.
func (s *Store) EnsureUserOrganization(ctx context.Context, userID, organizationID string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserOrganization{}).
		Where("user_id = ? AND organization_id = ?", userID, organizationID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("count user organization: %w", err)
	}
	if count > 0 {
		return nil
	}
	assoc := &model.UserOrganization{UserID: userID, OrganizationID: organizationID}
	if cerr := s.db.WithContext(ctx).Create(assoc).Error; cerr != nil {
		if isDuplicate(cerr) {
			return nil
		}
		return fmt.Errorf("create user organization: %w", cerr)
	}
	return nil
}

// ---- User access tokens ----------------------------------------------------

// UserAccessToken returns the token row for (user, organization, type).
// Returns ErrNotFound when absent.
func (s *Store) UserAccessToken(ctx context.Context, userID, organizationID, tokenType string) (*model.UserAccessToken, error) {
	var t model.UserAccessToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND token_type = ?", userID, organizationID, tokenType).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user access token: %w", err)
	}
	return &t, nil
}

// CreateUserAccessToken inserts a token row. If a concurrent caller won the
// create race, the existing row is returned instead; the composite unique
// index guarantees at most one row per (user, organization, type).
func (s *Store) CreateUserAccessToken(ctx context.Context, t *model.UserAccessToken) (*model.UserAccessToken, error) {
	if t.TokenType == "" {
		t.TokenType = model.TokenTypeOffline
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		if isDuplicate(err) {
			return s.UserAccessToken(ctx, t.UserID, t.OrganizationID, t.TokenType)
		}
		return nil, fmt.Errorf("create user access token: %w", err)
	}
	return t, nil
}

// UpdateUserAccessToken overwrites the mutable fields of an existing row.
func (s *Store) UpdateUserAccessToken(ctx context.Context, t *model.UserAccessToken) error {
	updates := map[string]any{
		"access_token": t.AccessToken,
		"scope":        t.Scope,
		"expires_at":   t.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Model(t).Updates(updates).Error; err != nil {
		return fmt.Errorf("update user access token: %w", err)
	}
	return nil
}

// DeleteUserAccessToken removes the token row. Returns ErrNotFound when
// there was nothing to delete.
func (s *Store) DeleteUserAccessToken(ctx context.Context, userID, organizationID, tokenType string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND token_type = ?", userID, organizationID, tokenType).
		Delete(&model.UserAccessToken{})
	if res.Error != nil {
		return fmt.Errorf("delete user access token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiringOrganizations lists organizations whose access token expires
// before the given horizon. Used by the background credential sweep.
func (s *Store) ExpiringOrganizations(ctx context.Context, before time.Time) ([]model.Organization, error) {
	var orgs []model.Organization
	err := s.db.WithContext(ctx).
		Where("access_token_expires_at IS NOT NULL AND access_token_expires_at < ?", before).
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("list expiring organizations: %w", err)
	}
	return orgs, nil
}

// DeleteExpiredAccessTokens prunes non-offline token rows whose expiry has
// passed. Offline rows have a null expiry and are never touched.
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("token_type <> ? AND expires_at IS NOT NULL AND expires_at < ?", model.TokenTypeOffline, now).
		Delete(&model.UserAccessToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired access tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
