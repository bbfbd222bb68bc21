package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/metrics"
	"locallift/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// Scope grants management access to Business Profile listings.
	Scope = "https://www.googleapis.com/auth/business.manage"

	// RefreshMargin is how far ahead of expiry a stored token stops being handed out.
	RefreshMargin = 120 * time.Second

	defaultExpiresIn = time.Hour

	defaultRefreshTimeout = 30 * time.Second
)

type ConnectionStore interface {
	GetConnection(ctx context.Context, userID string) (models.OAuthConnection, error)
	UpsertConnection(ctx context.Context, conn models.OAuthConnection) error
	UpdateConnectionTokens(ctx context.Context, conn models.OAuthConnection) error
	DeleteConnection(ctx context.Context, userID string) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Timeout      time.Duration
}

// TokenSet is the result of a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        *string
}

// Manager owns the Google OAuth lifecycle for Business Profile access.
// The oauth2 client is built on first use.
type Manager struct {
	cfg    Config
	store  ConnectionStore
	logger *slog.Logger
	now    func() time.Time

	once       sync.Once
	oauth      *oauth2.Config
	httpClient *http.Client

	refreshes singleflight.Group
}

func NewManager(cfg Config, store ConnectionStore, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (m *Manager) configured() bool {
	return m.cfg.ClientID != "" && m.cfg.ClientSecret != ""
}

func (m *Manager) client() (*oauth2.Config, error) {
	if !m.configured() {
		return nil, fmt.Errorf("google oauth: %w", apperr.ErrNotConfigured)
	}
	m.once.Do(func() {
		m.oauth = &oauth2.Config{
			ClientID:     m.cfg.ClientID,
			ClientSecret: m.cfg.ClientSecret,
			RedirectURL:  m.cfg.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   m.cfg.AuthURL,
				TokenURL:  m.cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		m.httpClient = &http.Client{Timeout: m.cfg.Timeout}
	})
	return m.oauth, nil
}

func (m *Manager) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// AuthorizationURL builds the consent URL. state carries the internal user id.
func (m *Manager) AuthorizationURL(state string) (string, error) {
	oc, err := m.client()
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// ExchangeCode redeems a single-use authorization code. It is never retried.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	oc, err := m.client()
	if err != nil {
		return TokenSet{}, err
	}
	tok, err := oc.Exchange(m.withClient(ctx), code)
	if err != nil {
		return TokenSet{}, upstreamAuthError("exchange", err)
	}
	return m.tokenSet(tok), nil
}

// RefreshToken runs the refresh grant. A rejection stays terminal until the
// user authorizes again.
func (m *Manager) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	oc, err := m.client()
	if err != nil {
		return TokenSet{}, err
	}
	if refreshToken == "" {
		return TokenSet{}, &apperr.UpstreamAuthError{Op: "refresh", Err: errors.New("no refresh token stored")}
	}
	tok, err := oc.TokenSource(m.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return TokenSet{}, upstreamAuthError("refresh", err)
	}
	return m.tokenSet(tok), nil
}

func (m *Manager) tokenSet(tok *oauth2.Token) TokenSet {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultExpiresIn)
	}
	set := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry.UTC(),
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		set.Scope = &scope
	}
	return set
}

func upstreamAuthError(op string, err error) error {
	authErr := &apperr.UpstreamAuthError{Op: op, Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		authErr.Status = retrieveErr.Response.StatusCode
	}
	return authErr
}

// Connect exchanges code and stores the connection for userID, replacing any
// previous row for that user.
func (m *Manager) Connect(ctx context.Context, userID, code string) error {
	set, err := m.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	err = m.store.UpsertConnection(ctx, models.OAuthConnection{
		UserID:       userID,
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.Expiry,
		Scope:        set.Scope,
	})
	if err != nil {
		return fmt.Errorf("store connection: %w", err)
	}
	m.logger.Info("google business profile connected", "user_id", userID, "has_refresh_token", set.RefreshToken != "")
	return nil
}

// Disconnect removes the stored connection. Missing rows are not an error.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	if err := m.store.DeleteConnection(ctx, userID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// ValidAccessToken returns a token that stays valid for at least RefreshMargin,
// refreshing and persisting it first when needed.
func (m *Manager) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	conn, err := m.loadConnection(ctx, userID)
	if err != nil {
		return "", err
	}
	if conn.ExpiresAt.After(m.now().Add(RefreshMargin)) {
		return conn.AccessToken, nil
	}

	// The shared refresh is detached from the caller that started it, so a
	// short deadline there does not fail the other waiters.
	ch := m.refreshes.DoChan(userID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout())
		defer cancel()
		return m.refreshAndStore(refreshCtx, conn)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &apperr.UpstreamAuthError{Op: "refresh", Err: ctx.Err()}
	}
}

func (m *Manager) refreshTimeout() time.Duration {
	if m.cfg.Timeout > 0 {
		return m.cfg.Timeout
	}
	return defaultRefreshTimeout
}

func (m *Manager) loadConnection(ctx context.Context, userID string) (models.OAuthConnection, error) {
	conn, err := m.store.GetConnection(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.OAuthConnection{}, &apperr.NotConnectedError{UserID: userID}
	}
	if err != nil {
		return models.OAuthConnection{}, fmt.Errorf("load connection: %w", err)
	}
	return conn, nil
}

func (m *Manager) refreshAndStore(ctx context.Context, conn models.OAuthConnection) (string, error) {
	set, err := m.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		m.logger.Warn("google token refresh failed", "user_id", conn.UserID, "error", err)
		return "", err
	}

	update := models.OAuthConnection{
		UserID:      conn.UserID,
		AccessToken: set.AccessToken,
		ExpiresAt:   set.Expiry,
		Scope:       set.Scope,
	}
	if set.RefreshToken != conn.RefreshToken {
		update.RefreshToken = set.RefreshToken
	}
	if err := m.store.UpdateConnectionTokens(ctx, update); err != nil {
		metrics.TokenRefreshes.WithLabelValues("store_failed").Inc()
		if errors.Is(err, apperr.ErrNotFound) {
			return "", &apperr.NotConnectedError{UserID: conn.UserID}
		}
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return set.AccessToken, nil
}
