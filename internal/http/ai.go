package httpapi

import (
	"net/http"

	"locallift/internal/services"
)

func (s *Server) handleGenerateContent(w http.ResponseWriter, r *http.Request) {
	var req services.GenerateContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	markdown, err := s.svc.GenerateContent(r.Context(), userID(r), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"markdown": markdown})
}

func (s *Server) handleReviewReply(w http.ResponseWriter, r *http.Request) {
	var req services.ReviewReplyRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.svc.DraftReviewReply(r.Context(), userID(r), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleAudit serves both audit modes; connected audits need a session.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req services.AuditRequest
	if !s.decode(w, r, &req) {
		return
	}
	markdown, err := s.svc.Audit(r.Context(), userID(r), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"markdown": markdown})
}

type freeAuditResponse struct {
	OK bool `json:"ok"`
	services.FreeAuditResult
}

func (s *Server) handleFreeAudit(w http.ResponseWriter, r *http.Request) {
	var req services.FreeAuditRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.FreeAudit(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, freeAuditResponse{OK: true, FreeAuditResult: result})
}
