package httpapi

import (
	"net/http"

	"locallift/internal/services"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.ListProjects(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req services.CreateProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	project, err := s.svc.CreateProject(r.Context(), userID(r), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.svc.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	project, err := s.svc.UpdateProject(r.Context(), userID(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProject(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.svc.ListReviews(r.Context(), userID(r), r.URL.Query().Get("loc"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": reviews})
}

// handleCaptureLead is public; the marketing site posts audit prospects here.
func (s *Server) handleCaptureLead(w http.ResponseWriter, r *http.Request) {
	var req services.LeadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.CaptureLead(r.Context(), req, r.UserAgent()); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
