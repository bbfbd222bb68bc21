package gbp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) ValidAccessToken(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func newTestGateway(t *testing.T, tokens TokenProvider, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(tokens, Endpoints{
		AccountsBase:     srv.URL + "/v1",
		BusinessInfoBase: srv.URL + "/info/v1",
		ReviewsBase:      srv.URL + "/v4",
	}, 0, 2*time.Second, logger.Discard())
}

func TestCallAttachesBearerToken(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok-1"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := g.Call(context.Background(), "u1", http.MethodGet, "accounts", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallReturnsUpstreamErrorStatusUnchanged(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403}}`))
	})

	resp, err := g.Call(context.Background(), "u1", http.MethodGet, "/accounts", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":{"code":403}}`, string(body))
}

func TestCallStopsOnTokenFailure(t *testing.T) {
	var hits atomic.Int32
	tokens := &staticTokens{err: &apperr.NotConnectedError{UserID: "u1"}}
	g := newTestGateway(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := g.Call(context.Background(), "u1", http.MethodGet, "/accounts", nil, nil)
	assert.True(t, apperr.IsNotConnected(err))
	assert.Zero(t, hits.Load())
}

func TestCallRejectsForeignAbsoluteTargets(t *testing.T) {
	var hits atomic.Int32
	tokens := &staticTokens{token: "tok"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	g := NewGateway(tokens, Endpoints{
		AccountsBase:     srv.URL + "/v1",
		BusinessInfoBase: srv.URL + "/info/v1",
		ReviewsBase:      srv.URL + "/v4",
	}, 0, 2*time.Second, logger.Discard())
	ctx := context.Background()

	for _, target := range []string{
		"https://attacker.example/collect",
		srv.URL + "/other",
		srv.URL + "/info/v1evil",
	} {
		_, err := g.Call(ctx, "u1", http.MethodGet, target, nil, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest, target)
	}
	assert.Zero(t, hits.Load())
	assert.Zero(t, tokens.calls.Load())

	resp, err := g.Call(ctx, "u1", http.MethodGet, srv.URL+"/v4/accounts/1/locations/2/reviews?pageSize=50", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), hits.Load())
}

func TestCallNetworkFailureIsUpstreamAPIError(t *testing.T) {
	g := NewGateway(&staticTokens{token: "tok"}, Endpoints{AccountsBase: "http://127.0.0.1:1"}, 0, time.Second, logger.Discard())

	_, err := g.Call(context.Background(), "u1", http.MethodGet, "/accounts", nil, nil)
	var apiErr *apperr.UpstreamAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.Status)
}

func TestListLocationsKeepsRawPayload(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info/v1/locations", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "name,title,storeCode,placeId", r.URL.Query().Get("readMask"))
		_, _ = w.Write([]byte(`{"locations":[{"name":"locations/1","title":"Cafe","storeCode":"S1","placeId":"p1","extra":42}]}`))
	})

	locs, err := g.ListLocations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Cafe", locs[0].Title)
	assert.Equal(t, "S1", locs[0].StoreCode)
	assert.Contains(t, string(locs[0].Raw), `"extra":42`)
}

func TestListAccountLocationsEmpty(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/123/locations", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	})

	locs, err := g.ListAccountLocations(context.Background(), "u1", "accounts/123")
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestListReviewsMapsStars(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/accounts/1/locations/2/reviews", r.URL.Path)
		_, _ = w.Write([]byte(`{"reviews":[
			{"reviewId":"r1","reviewer":{"displayName":"Ann"},"starRating":"FOUR","comment":"Nice"},
			{"reviewId":"r2","starRating":"STAR_RATING_UNSPECIFIED","reviewReply":{"comment":"Thanks"}}
		]}`))
	})

	reviews, err := g.ListReviews(context.Background(), "u1", "accounts/1/locations/2")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, 4, reviews[0].Stars())
	assert.Equal(t, "Ann", reviews[0].Reviewer.DisplayName)
	assert.Equal(t, 0, reviews[1].Stars())
	require.NotNil(t, reviews[1].ReviewReply)
	assert.Equal(t, "Thanks", reviews[1].ReviewReply.Comment)
}

func TestListReviewsUpstreamFailure(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not found`))
	})

	_, err := g.ListReviews(context.Background(), "u1", "accounts/1/locations/9")
	var apiErr *apperr.UpstreamAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not found", string(apiErr.Body))
}

func TestUpdateReply(t *testing.T) {
	g := newTestGateway(t, &staticTokens{token: "tok"}, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v4/accounts/1/locations/2/reviews/abc:updateReply", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Thank you", payload["reply"]["comment"])
		_, _ = w.Write([]byte(`{"comment":"Thank you"}`))
	})

	err := g.UpdateReply(context.Background(), "u1", "accounts/1/locations/2", "abc", "Thank you")
	require.NoError(t, err)
}
