package gbp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/metrics"

	"golang.org/x/time/rate"
)

const maxErrorBody = 1 << 20

// TokenProvider hands out access tokens valid for the next request.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Endpoints are the API roots the gateway talks to. Relative paths passed
// to Call resolve against AccountsBase; absolute URLs must sit under one of
// the three roots.
type Endpoints struct {
	AccountsBase     string
	BusinessInfoBase string
	ReviewsBase      string
}

// Gateway performs authenticated calls to the Business Profile APIs.
type Gateway struct {
	tokens    TokenProvider
	endpoints Endpoints
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewGateway builds a gateway. requestsPerSecond <= 0 disables pacing.
func NewGateway(tokens TokenProvider, endpoints Endpoints, requestsPerSecond float64, timeout time.Duration, logger *slog.Logger) *Gateway {
	g := &Gateway{
		tokens:    tokens,
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return g
}

// Call obtains a valid token for userID, attaches it and issues one request.
// The response is returned unmodified; a token failure aborts before any
// network call.
func (g *Gateway) Call(ctx context.Context, userID, method, target string, body io.Reader, header http.Header) (*http.Response, error) {
	endpoint, err := g.resolve(target)
	if err != nil {
		return nil, err
	}
	token, err := g.tokens.ValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &apperr.UpstreamAPIError{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build google api request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		return nil, &apperr.UpstreamAPIError{Err: err}
	}
	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	g.logger.Debug("google api call", "user_id", userID, "method", method, "url", req.URL.Redacted(), "status", resp.StatusCode)
	return resp, nil
}

// resolve keeps the bearer token on Google hosts: absolute targets outside
// the configured roots are rejected.
func (g *Gateway) resolve(target string) (string, error) {
	if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		return g.endpoints.AccountsBase + target, nil
	}
	for _, base := range []string{g.endpoints.AccountsBase, g.endpoints.BusinessInfoBase, g.endpoints.ReviewsBase} {
		if underBase(target, base) {
			return target, nil
		}
	}
	return "", fmt.Errorf("%w: target is outside the google api endpoints", apperr.ErrInvalidRequest)
}

func underBase(target, base string) bool {
	if base == "" || !strings.HasPrefix(target, base) {
		return false
	}
	rest := target[len(base):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}

// CheckResponse turns a non-2xx response into an UpstreamAPIError carrying
// the status and body verbatim. The body is consumed in that case.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &apperr.UpstreamAPIError{Status: resp.StatusCode, Body: body}
}

func (g *Gateway) doJSON(ctx context.Context, userID, method, target string, payload, out any) error {
	var body io.Reader
	header := http.Header{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(raw))
		header.Set("Content-Type", "application/json")
	}

	resp, err := g.Call(ctx, userID, method, target, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode google api response: %w", err)
	}
	return nil
}
