package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"locallift/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type reconnectResponse struct {
	Error     string `json:"error"`
	Reconnect bool   `json:"reconnect"`
}

type entitlementResponse struct {
	Error     string     `json:"error"`
	Reason    string     `json:"reason"`
	Feature   string     `json:"feature,omitempty"`
	Limit     *int       `json:"limit,omitempty"`
	Used      *int       `json:"used,omitempty"`
	ResetDate *time.Time `json:"reset_date,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notConnected *apperr.NotConnectedError
		authErr      *apperr.UpstreamAuthError
		apiErr       *apperr.UpstreamAPIError
		denied       *apperr.EntitlementDeniedError
	)
	switch {
	case errors.As(err, &notConnected):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Not connected to Google"})
	case errors.As(err, &authErr):
		s.logger.Warn("google authorization rejected", "request_id", middleware.GetReqID(r.Context()), "op", authErr.Op, "status", authErr.Status)
		respondJSON(w, http.StatusUnauthorized, reconnectResponse{Error: authErr.Error(), Reconnect: true})
	case errors.As(err, &apiErr):
		s.respondUpstreamError(w, r, apiErr)
	case errors.As(err, &denied):
		respondDenied(w, denied)
	case apperr.IsStoreUnavailable(err):
		s.logger.Error("store unavailable", "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, errors.New("service temporarily unavailable"))
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, apperr.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, apperr.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err)
	case errors.Is(err, apperr.ErrConflict):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, apperr.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

// respondUpstreamError relays the Business Profile status and body text.
// Requests that never got a response become 502.
func (s *Server) respondUpstreamError(w http.ResponseWriter, r *http.Request, apiErr *apperr.UpstreamAPIError) {
	if apiErr.Status == 0 {
		s.logger.Warn("google api unreachable", "request_id", middleware.GetReqID(r.Context()), "error", apiErr.Err)
		respondError(w, http.StatusBadGateway, errors.New("google api unreachable"))
		return
	}
	respondJSON(w, apiErr.Status, ErrorResponse{Error: string(apiErr.Body)})
}

func respondDenied(w http.ResponseWriter, denied *apperr.EntitlementDeniedError) {
	body := entitlementResponse{
		Error:   denied.Error(),
		Reason:  string(denied.Reason),
		Feature: denied.Feature,
	}
	if denied.Reason != apperr.DenialQuota {
		respondJSON(w, http.StatusForbidden, body)
		return
	}
	body.Limit = &denied.Limit
	body.Used = &denied.Used
	body.ResetDate = denied.ResetDate
	respondJSON(w, http.StatusPaymentRequired, body)
}

// logAttrs is shared by the request logger and the recoverer.
func logAttrs(r *http.Request) []any {
	return []any{
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
}
