// Package sessiontoken verifies the compact JWTs minted by the platform for
// embedded elements. Two signing-key regimes exist for the same payload
// shape: OAuth-issued tokens signed with the shared element secret, and
// credential-flow tokens signed with the organization's current access
// token. The caller always chooses the regime; there is no guessing.
package sessiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed structure, bad signature and expiry.
// Callers must not distinguish these cases in responses; the wrapped cause
// remains available for logging via errors.Is.
var ErrInvalidToken = errors.New("invalid session token")

// UserClaim is the nested user object inside a session token payload.
type UserClaim struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Claims is the session token payload. OrganizationID carries the
// organization's external platform id (Organization.MantleID).
type Claims struct {
	User           UserClaim `json:"user"`
	OrganizationID string    `json:"organizationId"`
	jwt.RegisteredClaims
}

// Verifier validates a session token under exactly one signing regime.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// ElementSecretVerifier validates tokens signed with the shared element
// secret (the OAuth / server-validated path).
type ElementSecretVerifier struct {
	secret []byte
}

// NewElementSecretVerifier returns a verifier for the element-secret regime.
func NewElementSecretVerifier(secret string) *ElementSecretVerifier {
	return &ElementSecretVerifier{secret: []byte(secret)}
}

// Verify implements Verifier.
func (v *ElementSecretVerifier) Verify(token string) (*Claims, error) {
	return verifyHS256(token, v.secret)
}

// OrgTokenVerifier validates tokens signed with an organization's current
// access token (the credentials-based sign-in path).
type OrgTokenVerifier struct {
	secret []byte
}

// NewOrgTokenVerifier returns a verifier keyed by the organization's stored
// access token.
func NewOrgTokenVerifier(orgAccessToken string) *OrgTokenVerifier {
	return &OrgTokenVerifier{secret: []byte(orgAccessToken)}
}

// Verify implements Verifier.
func (v *OrgTokenVerifier) Verify(token string) (*Claims, error) {
	return verifyHS256(token, v.secret)
}

// verifyHS256 validates the token signature and expiry. HMAC-SHA256 is the
// only accepted scheme; an absent exp claim means non-expiring.
func verifyHS256(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Decode extracts the payload without checking the signature or expiry.
// This is the payload-trust path: the result must not be treated as
// verified unless the signature is independently validated downstream.
func Decode(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Sign mints a session token for the given claims under an HS256 secret.
// Used by the development seed path and tests.
func Sign(claims *Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// NewClaims builds a Claims value for the given user and organization with
// an expiry ttl from now. A zero ttl produces a non-expiring token.
func NewClaims(user UserClaim, organizationID string, ttl time.Duration) *Claims {
	c := &Claims{User: user, OrganizationID: organizationID}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return c
}

// IsExpired reports whether err was caused specifically by token expiry.
// Responses never reveal this; it exists for diagnostics only.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
