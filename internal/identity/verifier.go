// Package identity resolves the calling user from Supabase access tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

var ErrNoCredentials = errors.New("no credentials")

// User is the authenticated caller.
type User struct {
	ID    string
	Email string
}

type Config struct {
	// JWTSecret verifies HS256 tokens signed with the project secret.
	JWTSecret string
	// JWKSURL, when set, verifies asymmetric tokens against the published key set.
	JWKSURL string
	// Issuer is checked when non-empty.
	Issuer     string
	CookieName string
}

// Verifier validates access tokens. It holds no network state unless a JWKS
// URL is configured.
type Verifier struct {
	cookieName string
	secret     []byte
	keyfunc    keyfunc.Keyfunc
	parser     *jwt.Parser
}

func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	v := &Verifier{cookieName: cfg.CookieName, secret: []byte(cfg.JWTSecret)}

	methods := []string{jwt.SigningMethodHS256.Name}
	if cfg.JWKSURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("init jwks keyfunc: %w", err)
		}
		v.keyfunc = k
		methods = append(methods,
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodES256.Name,
		)
	}
	if len(v.secret) == 0 && v.keyfunc == nil {
		return nil, errors.New("identity: jwt secret or jwks url required")
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func (v *Verifier) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) == 0 {
			return nil, errors.New("hmac tokens not accepted")
		}
		return v.secret, nil
	}
	if v.keyfunc == nil {
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
	return v.keyfunc.Keyfunc(token)
}

// Verify parses and validates a raw access token.
func (v *Verifier) Verify(raw string) (User, error) {
	token, err := v.parser.Parse(raw, v.key)
	if err != nil {
		return User{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return User{}, errors.New("invalid token claims")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return User{}, errors.New("token missing sub")
	}
	email, _ := claims["email"].(string)
	return User{ID: sub, Email: email}, nil
}

// FromRequest tries the bearer token first and falls back to the session
// cookie. ErrNoCredentials means neither was present.
func (v *Verifier) FromRequest(r *http.Request) (User, error) {
	if token := bearerToken(r); token != "" {
		if user, err := v.Verify(token); err == nil {
			return user, nil
		}
	}
	if v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
			return v.Verify(c.Value)
		}
	}
	if bearerToken(r) != "" {
		return User{}, errors.New("invalid bearer token")
	}
	return User{}, ErrNoCredentials
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

type contextKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok && user.ID != ""
}
