package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "owner@example.com",
		"aud":   "authenticated",
		"iss":   "https://project.supabase.co/auth/v1",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), Config{
		JWTSecret:  testSecret,
		Issuer:     "https://project.supabase.co/auth/v1",
		CookieName: "sb-access-token",
	})
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresKeyMaterial(t *testing.T) {
	_, err := NewVerifier(context.Background(), Config{})
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t)

	user, err := v.Verify(sign(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, User{ID: "user-1", Email: "owner@example.com"}, user)
}

func TestVerifyRejects(t *testing.T) {
	v := newTestVerifier(t)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example"
	noSub := validClaims()
	delete(noSub, "sub")
	noExp := validClaims()
	delete(noExp, "exp")

	cases := map[string]string{
		"expired":      sign(t, testSecret, expired),
		"wrong issuer": sign(t, testSecret, wrongIssuer),
		"missing sub":  sign(t, testSecret, noSub),
		"missing exp":  sign(t, testSecret, noExp),
		"wrong secret": sign(t, "another-secret-another-secret-another", validClaims()),
		"garbage":      "not-a-jwt",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(raw)
			assert.Error(t, err)
		})
	}
}

func TestFromRequestPrefersBearer(t *testing.T) {
	v := newTestVerifier(t)
	cookieClaims := validClaims()
	cookieClaims["sub"] = "cookie-user"

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, testSecret, validClaims()))
	r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: sign(t, testSecret, cookieClaims)})

	user, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}

func TestFromRequestFallsBackToCookie(t *testing.T) {
	v := newTestVerifier(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer broken")
	r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: sign(t, testSecret, validClaims())})

	user, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}

func TestFromRequestWithoutCredentials(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoCredentials)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer broken")
	_, err = v.FromRequest(r)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), User{ID: "u1"})
	user, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", user.ID)
}
