package httpapi

import (
	"net/http"

	"locallift/internal/services"
)

func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := s.svc.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	url, err := s.svc.BeginAuthorization(r.Context(), user.ID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("debug") == "1" {
		respondJSON(w, http.StatusOK, map[string]string{"redirect": url})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleGoogleCallback is reached by Google's redirect; state carries the user id.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.svc.CompleteAuthorization(r.Context(), q.Get("code"), q.Get("state")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, s.cfg.AppURL+"/settings?google=connected", http.StatusFound)
}

func (s *Server) handleGoogleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Disconnect(r.Context(), userID(r)); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.svc.ListLocations(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

func (s *Server) handleSyncLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.svc.SyncLocations(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

type syncReviewsRequest struct {
	LocationName string `json:"locationName" validate:"required"`
}

func (s *Server) handleSyncReviews(w http.ResponseWriter, r *http.Request) {
	var req syncReviewsRequest
	if !s.decode(w, r, &req) {
		return
	}
	imported, err := s.svc.SyncReviews(r.Context(), userID(r), req.LocationName)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (s *Server) handlePostReply(w http.ResponseWriter, r *http.Request) {
	var req services.PostReplyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.PostReply(r.Context(), userID(r), req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
