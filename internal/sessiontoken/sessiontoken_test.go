package sessiontoken_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mantlekit/element/internal/sessiontoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	elementSecret = "element-secret-at-least-32-bytes"
	orgToken      = "org-access-token-acting-as-secret"
)

func testClaims(ttl time.Duration) *sessiontoken.Claims {
	return sessiontoken.NewClaims(sessiontoken.UserClaim{
		ID:    "u1",
		Email: "a@b.com",
		Name:  "A",
	}, "org1", ttl)
}

func TestVerify_RoundTripPerRegime(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		verifier sessiontoken.Verifier
	}{
		{"element secret", elementSecret, sessiontoken.NewElementSecretVerifier(elementSecret)},
		{"org access token", orgToken, sessiontoken.NewOrgTokenVerifier(orgToken)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := sessiontoken.Sign(testClaims(time.Hour), tt.secret)
			require.NoError(t, err)

			claims, err := tt.verifier.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, "u1", claims.User.ID)
			assert.Equal(t, "a@b.com", claims.User.Email)
			assert.Equal(t, "org1", claims.OrganizationID)
		})
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := sessiontoken.Sign(testClaims(time.Hour), elementSecret)
	require.NoError(t, err)

	_, err = sessiontoken.NewElementSecretVerifier("some-other-secret").Verify(tok)
	require.ErrorIs(t, err, sessiontoken.ErrInvalidToken)
}

func TestVerify_CrossRegimeRejected(t *testing.T) {
	// A token minted under one regime must not validate under the other.
	tok, err := sessiontoken.Sign(testClaims(time.Hour), elementSecret)
	require.NoError(t, err)

	_, err = sessiontoken.NewOrgTokenVerifier(orgToken).Verify(tok)
	require.ErrorIs(t, err, sessiontoken.ErrInvalidToken)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	v := sessiontoken.NewElementSecretVerifier(elementSecret)

	expired := testClaims(0)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Second))
	tok, err := sessiontoken.Sign(expired, elementSecret)
	require.NoError(t, err)
	_, err = v.Verify(tok)
	require.ErrorIs(t, err, sessiontoken.ErrInvalidToken)
	assert.True(t, sessiontoken.IsExpired(err))

	fresh := testClaims(0)
	fresh.ExpiresAt = jwt.NewNumericDate(time.Now().Add(5 * time.Second))
	tok, err = sessiontoken.Sign(fresh, elementSecret)
	require.NoError(t, err)
	_, err = v.Verify(tok)
	require.NoError(t, err)
}

func TestVerify_AbsentExpIsNonExpiring(t *testing.T) {
	tok, err := sessiontoken.Sign(testClaims(0), elementSecret)
	require.NoError(t, err)

	_, err = sessiontoken.NewElementSecretVerifier(elementSecret).Verify(tok)
	require.NoError(t, err)
}

func TestVerify_Garbage(t *testing.T) {
	v := sessiontoken.NewElementSecretVerifier(elementSecret)
	for _, tok := range []string{"", "not-a-jwt", "a.b", "a.b.c.d", "!!!.???.###"} {
		_, err := v.Verify(tok)
		require.ErrorIs(t, err, sessiontoken.ErrInvalidToken, "token %q", tok)
	}
}

func TestDecode_SkipsSignature(t *testing.T) {
	tok, err := sessiontoken.Sign(testClaims(time.Hour), "whatever-secret")
	require.NoError(t, err)

	claims, err := sessiontoken.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "org1", claims.OrganizationID)
	assert.Equal(t, "A", claims.User.Name)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := sessiontoken.Decode("only.two")
	require.ErrorIs(t, err, sessiontoken.ErrInvalidToken)
}
