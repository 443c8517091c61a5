// Package seed provisions a development organization on first boot so the
// org-token verification regime has a credential to verify against before
// any real exchange has happened.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mantlekit/element/internal/model"
	"gorm.io/gorm"
)

// Options configures the seed organization. Seeding is skipped entirely
// when OrgMantleID is empty.
type Options struct {
	OrgMantleID string
	OrgName     string
	UserEmail   string // optional: also provision a dev user under the org
}

// EnsureOrganization creates the development organization if it does not
// exist, giving it a random access token and printing that token to stdout
// exactly once. Idempotent — safe to call on every startup.
func EnsureOrganization(ctx context.Context, db *gorm.DB, opts Options, log *slog.Logger) error {
	if opts.OrgMantleID == "" {
		return nil
	}

	var existing model.Organization
	err := db.WithContext(ctx).Where("mantle_id = ?", opts.OrgMantleID).First(&existing).Error
	if err == nil {
		log.Info("seed organization already exists", "mantle_id", opts.OrgMantleID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up seed organization: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generate seed org token: %w", err)
	}

	org := &model.Organization{
		MantleID:    opts.OrgMantleID,
		Name:        opts.OrgName,
		AccessToken: token,
	}
	if err := db.WithContext(ctx).Create(org).Error; err != nil {
		return fmt.Errorf("insert seed organization: %w", err)
	}
	// Print the signing credential to stdout exactly once.
	fmt.Printf("[element] seed organization %s access token: %s\n", opts.OrgMantleID, token)

	if opts.UserEmail != "" {
		user := &model.User{Email: opts.UserEmail, Name: "Seed User"}
		if err := db.WithContext(ctx).Create(user).Error; err != nil {
			return fmt.Errorf("insert seed user: %w", err)
		}
		assoc := &model.UserOrganization{UserID: user.ID, OrganizationID: org.ID}
		if err := db.WithContext(ctx).Create(assoc).Error; err != nil {
			return fmt.Errorf("associate seed user: %w", err)
		}
	}

	log.Info("seed organization created", "mantle_id", opts.OrgMantleID)
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
