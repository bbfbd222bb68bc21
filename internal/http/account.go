package httpapi

import (
	"errors"
	"io"
	"net/http"

	"locallift/internal/apperr"
)

const maxWebhookBytes = 65536

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := s.svc.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	summary, err := s.svc.PlanSummary(r.Context(), user.ID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.DashboardSummary(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, r, apperr.Unavailable(err))
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user.Email == "" {
		respondError(w, http.StatusBadRequest, errors.New("account has no email address"))
		return
	}
	url, err := s.svc.StartCheckout(r.Context(), user.ID, user.Email)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.redirectOrURL(w, r, url)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	url, err := s.svc.BillingPortal(r.Context(), user.ID, user.Email)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.redirectOrURL(w, r, url)
}

func (s *Server) redirectOrURL(w http.ResponseWriter, r *http.Request, url string) {
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := s.svc.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
