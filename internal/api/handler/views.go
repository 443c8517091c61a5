// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"time"

	"github.com/mantlekit/element/internal/model"
)

// userView is the user shape returned to the embedded front end.
type userView struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// orgView is the organization shape. Platform credentials never leave the
// backend; only identity fields are exposed.
type orgView struct {
	ID       string `json:"id"`
	MantleID string `json:"mantleId"`
	Name     string `json:"name,omitempty"`
}

// tokenInfoView describes a stored offline access token.
type tokenInfoView struct {
	AccessToken string     `json:"accessToken"`
	TokenType   string     `json:"tokenType"`
	Scope       string     `json:"scope,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newUserView(u *model.User) userView {
	v := userView{ID: u.ID, Email: u.Email, Name: u.Name}
	if u.UserID != nil {
		v.UserID = *u.UserID
	}
	return v
}

func newOrgView(o *model.Organization) orgView {
	return orgView{ID: o.ID, MantleID: o.MantleID, Name: o.Name}
}

func newTokenInfoView(t *model.UserAccessToken) tokenInfoView {
	return tokenInfoView{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Scope:       t.Scope,
		ExpiresAt:   t.ExpiresAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
