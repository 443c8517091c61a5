// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenTypeOffline is the only token type the lifecycle manager persists.
// The composite unique index on user_access_tokens guarantees at most one
// row per (user, organization, token type).
const TokenTypeOffline = "offline"

// Organization mirrors a platform organization. MantleID is the external
// platform identifier and the join key for the organizationId claim in
// inbound session tokens; it is stable across re-installs.
type Organization struct {
	ID                    string  `gorm:"type:text;primaryKey"`
	MantleID              string  `gorm:"type:text;not null;uniqueIndex"`
	Name                  string  `gorm:"type:text;not null;default:''"`
	AccessToken           string  `gorm:"type:text;not null;default:''"`
	RefreshToken          *string `gorm:"type:text"`
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	APIToken              *string   `gorm:"type:text"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (o *Organization) BeforeCreate(_ *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// User is the GORM model for the users table. UserID is the external
// platform user id and may be unknown on first sight; email uniqueness is
// the backstop lookup key.
type User struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    *string   `gorm:"type:text;index"`
	Email     string    `gorm:"type:text;not null;uniqueIndex"`
	Name      string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// UserOrganization records that a user has been seen under an organization.
// Rows are created idempotently and never updated.
type UserOrganization struct {
	ID             string    `gorm:"type:text;primaryKey"`
	UserID         string    `gorm:"type:text;not null;uniqueIndex:idx_user_org"`
	OrganizationID string    `gorm:"type:text;not null;uniqueIndex:idx_user_org"`
	CreatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (uo *UserOrganization) BeforeCreate(_ *gorm.DB) error {
	if uo.ID == "" {
		uo.ID = uuid.New().String()
	}
	return nil
}

// UserAccessToken is one long-lived offline credential scoped to a
// (user, organization, token type) triple. Offline tokens are created with
// ExpiresAt and RefreshToken nil: refresh means redoing the exchange, not
// spending a stored refresh token.
type UserAccessToken struct {
	ID             string  `gorm:"type:text;primaryKey"`
	UserID         string  `gorm:"type:text;not null;uniqueIndex:idx_user_org_type"`
	OrganizationID string  `gorm:"type:text;not null;uniqueIndex:idx_user_org_type"`
	TokenType      string  `gorm:"type:text;not null;default:'offline';uniqueIndex:idx_user_org_type"`
	AccessToken    string  `gorm:"type:text;not null"`
	Scope          string  `gorm:"type:text;not null;default:''"`
	RefreshToken   *string `gorm:"type:text"`
	ExpiresAt      *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (t *UserAccessToken) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
