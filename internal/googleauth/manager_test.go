package googleauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/logger"
	"locallift/internal/models"
	"locallift/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenEndpoint struct {
	*httptest.Server
	mu     sync.Mutex
	forms  []url.Values
	status int
	body   string
	delay  time.Duration
}

func newFakeTokenEndpoint(t *testing.T, status int, body string) *fakeTokenEndpoint {
	t.Helper()
	f := &fakeTokenEndpoint{status: status, body: body}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.forms = append(f.forms, r.PostForm)
		delay := f.delay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTokenEndpoint) calls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms...)
}

func newTestManager(tokenURL string, st ConnectionStore) *Manager {
	return NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example/api/google/oauth/callback",
		AuthURL:      "https://accounts.example/o/oauth2/v2/auth",
		TokenURL:     tokenURL,
		Timeout:      2 * time.Second,
	}, st, logger.Discard())
}

func seedConnection(t *testing.T, st *store.Memory, expiresIn time.Duration) {
	t.Helper()
	require.NoError(t, st.UpsertConnection(context.Background(), models.OAuthConnection{
		UserID:       "u1",
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(expiresIn),
	}))
}

func TestAuthorizationURL(t *testing.T) {
	m := newTestManager("https://oauth.example/token", store.NewMemory())

	raw, err := m.AuthorizationURL("user-123")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.example", u.Host)
	assert.Equal(t, Scope, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "user-123", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://app.example/api/google/oauth/callback", q.Get("redirect_uri"))
}

func TestAuthorizationURLRequiresCredentials(t *testing.T) {
	m := NewManager(Config{}, store.NewMemory(), logger.Discard())
	_, err := m.AuthorizationURL("u1")
	assert.ErrorIs(t, err, apperr.ErrNotConfigured)
}

func TestValidAccessTokenRefreshesInsideMargin(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{"access_token":"fresh-access","expires_in":3600,"token_type":"Bearer"}`)
	st := store.NewMemory()
	seedConnection(t, st, 60*time.Second)
	m := newTestManager(endpoint.URL, st)

	token, err := m.ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)

	calls := endpoint.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "refresh_token", calls[0].Get("grant_type"))
	assert.Equal(t, "stored-refresh", calls[0].Get("refresh_token"))

	conn, err := st.GetConnection(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", conn.AccessToken)
	assert.Equal(t, "stored-refresh", conn.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), conn.ExpiresAt, 5*time.Second)
}

func TestValidAccessTokenReusesTokenOutsideMargin(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{"access_token":"fresh-access","expires_in":3600}`)
	st := store.NewMemory()
	seedConnection(t, st, 300*time.Second)
	m := newTestManager(endpoint.URL, st)

	token, err := m.ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Empty(t, endpoint.calls())
}

func TestValidAccessTokenNotConnected(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{}`)
	m := newTestManager(endpoint.URL, store.NewMemory())

	_, err := m.ValidAccessToken(context.Background(), "nobody")
	var notConnected *apperr.NotConnectedError
	require.ErrorAs(t, err, &notConnected)
	assert.Equal(t, "nobody", notConnected.UserID)
	assert.Empty(t, endpoint.calls())
}

func TestRefreshRejectedLeavesConnectionIntact(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	st := store.NewMemory()
	seedConnection(t, st, -time.Minute)
	before, err := st.GetConnection(context.Background(), "u1")
	require.NoError(t, err)
	m := newTestManager(endpoint.URL, st)

	_, err = m.ValidAccessToken(context.Background(), "u1")
	var authErr *apperr.UpstreamAuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "refresh", authErr.Op)
	assert.Equal(t, http.StatusBadRequest, authErr.Status)

	after, err := st.GetConnection(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken)
	assert.True(t, before.ExpiresAt.Equal(after.ExpiresAt))
}

func TestRefreshTimeoutIsUpstreamAuthError(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{"access_token":"late"}`)
	endpoint.delay = 300 * time.Millisecond
	st := store.NewMemory()
	seedConnection(t, st, 0)
	m := newTestManager(endpoint.URL, st)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.ValidAccessToken(ctx, "u1")
	var authErr *apperr.UpstreamAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestRefreshOutlivesCancelledFirstCaller(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{"access_token":"fresh-access","expires_in":3600}`)
	endpoint.delay = 200 * time.Millisecond
	st := store.NewMemory()
	seedConnection(t, st, 0)
	m := newTestManager(endpoint.URL, st)

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		shortErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = m.ValidAccessToken(short, "u1")
	}()
	time.Sleep(10 * time.Millisecond)

	token, err := m.ValidAccessToken(context.Background(), "u1")
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	var authErr *apperr.UpstreamAuthError
	assert.ErrorAs(t, shortErr, &authErr)
	assert.Len(t, endpoint.calls(), 1)

	conn, err := st.GetConnection(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", conn.AccessToken)
}

func TestConnectUpsertsSingleRow(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusOK, `{"access_token":"a1","refresh_token":"r1","expires_in":3599,"scope":"`+Scope+`"}`)
	st := store.NewMemory()
	m := newTestManager(endpoint.URL, st)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, "u1", "code-1"))
	assert.Equal(t, "authorization_code", endpoint.calls()[0].Get("grant_type"))
	assert.Equal(t, "code-1", endpoint.calls()[0].Get("code"))

	endpoint.mu.Lock()
	endpoint.body = `{"access_token":"a2"}`
	endpoint.mu.Unlock()
	require.NoError(t, m.Connect(ctx, "u1", "code-2"))

	assert.Equal(t, 1, st.ConnectionCount("u1"))
	conn, err := st.GetConnection(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a2", conn.AccessToken)
	assert.Equal(t, "r1", conn.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(defaultExpiresIn), conn.ExpiresAt, 5*time.Second)
}

func TestConnectExchangeRejected(t *testing.T) {
	endpoint := newFakeTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	st := store.NewMemory()
	m := newTestManager(endpoint.URL, st)

	err := m.Connect(context.Background(), "u1", "used-code")
	var authErr *apperr.UpstreamAuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "exchange", authErr.Op)
	assert.Zero(t, st.ConnectionCount("u1"))
	assert.Len(t, endpoint.calls(), 1)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	seedConnection(t, st, time.Hour)
	m := newTestManager("https://oauth.example/token", st)

	require.NoError(t, m.Disconnect(context.Background(), "u1"))
	require.NoError(t, m.Disconnect(context.Background(), "u1"))
	assert.Zero(t, st.ConnectionCount("u1"))
}
