package services

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"locallift/internal/apperr"
	"locallift/internal/entitlement"
)

const featureGoogleConnection = "google_connection"

// BeginAuthorization returns the Google consent URL for a user whose plan
// allows connecting a Business Profile.
func (s *Service) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	if _, err := s.entitlements.RequirePlan(ctx, userID, featureGoogleConnection, entitlement.CanConnectThirdPartyProfile); err != nil {
		return "", err
	}
	url, err := s.google.AuthorizationURL(userID)
	if err != nil {
		return "", err
	}
	s.logger.Info("google oauth started", "user_id", userID)
	return url, nil
}

// CompleteAuthorization redeems the callback code for the user carried in state.
func (s *Service) CompleteAuthorization(ctx context.Context, code, state string) error {
	if code == "" || state == "" {
		return fmt.Errorf("%w: missing code/state", apperr.ErrInvalidRequest)
	}
	return s.google.Connect(ctx, state, code)
}

func (s *Service) Disconnect(ctx context.Context, userID string) error {
	return s.google.Disconnect(ctx, userID)
}

// AuthenticatedAPICall forwards one request to the Business Profile API on
// behalf of userID and returns the raw response.
func (s *Service) AuthenticatedAPICall(ctx context.Context, userID, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	return s.gateway.Call(ctx, userID, method, path, body, header)
}
