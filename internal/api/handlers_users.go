package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/marketplace-relay/internal/errors"
)

// handleCreateUser handles POST /api/users - create a pending account
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	user, err := s.userService.Register(r.Context(), req.Email)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleValidateUser handles POST /api/users/{id}/validate - bind the
// account to its on-chain identity after a signature ownership proof
func (s *Server) handleValidateUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Address       string `json:"address"`
		TalentLayerID string `json:"talentLayerId"`
		Signature     string `json:"signature"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	user, err := s.userService.ValidateProfile(r.Context(), userID, req.Address, req.TalentLayerID, req.Signature)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleVerifyEmail handles POST /api/users/{id}/verify-email
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.userService.VerifyEmail(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
