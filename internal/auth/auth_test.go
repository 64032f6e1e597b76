package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.NoError(t, CheckPassword(hash, "s3cret"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrPasswordMismatch)
}

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("secret", "cogcatalog", time.Hour)
	token, exp, err := tokens.Issue(model.User{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestVerifyFailures(t *testing.T) {
	tokens := NewTokens("secret", "cogcatalog", time.Hour)
	good, _, err := tokens.Issue(model.User{ID: "u1"})
	require.NoError(t, err)

	expired := NewTokens("secret", "cogcatalog", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue(model.User{ID: "u1"})
	require.NoError(t, err)

	otherIssuer, _, err := NewTokens("secret", "someone-else", time.Hour).Issue(model.User{ID: "u1"})
	require.NoError(t, err)

	wrongKey, _, err := NewTokens("other", "cogcatalog", time.Hour).Issue(model.User{ID: "u1"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  apperrors.ErrorCode
	}{
		{"empty", "", apperrors.CAT_AUTHN},
		{"garbage", "not-a-token", apperrors.CAT_JWT_MALFORMED},
		{"expired", old, apperrors.CAT_JWT_EXPIRED},
		{"issuer", otherIssuer, apperrors.CAT_JWT_INVALID},
		{"signature", wrongKey, apperrors.CAT_JWT_INVALID},
		{"alg none", none, apperrors.CAT_JWT_INVALID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Verify(tt.token)
			e, ok := apperrors.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, e.Code)
		})
	}
	_, err = tokens.Verify(good)
	assert.NoError(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/me", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r.AddCookie(SessionCookie("from-cookie", time.Now().Add(time.Hour), false))
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}
