package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/watchme-core/internal/session"
)

type sessionRequest struct {
	AccessToken string `json:"access_token"`
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
}

func (s *Server) sessionState() sessionResponse {
	id, ok := s.session.UserID()
	return sessionResponse{Authenticated: ok, UserID: id}
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	if s.session == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState())
}

// handleSetSession hands over the access token issued by the auth
// provider. The token is never echoed back or logged.
func (s *Server) handleSetSession(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeNotFound(w, "sessions are not enabled")
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "access_token is required")
		return
	}

	if err := s.session.SetAccessToken(req.AccessToken); err != nil {
		if errors.Is(err, session.ErrTokenInvalid) {
			writeUnauthorized(w, err.Error())
			return
		}
		writeInternalError(w, "session update failed")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) handleClearSession(w http.ResponseWriter, _ *http.Request) {
	if s.session != nil {
		s.session.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}
