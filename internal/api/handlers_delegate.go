package api

import (
	"net/http"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/service"
)

// handleDelegatePlatform handles POST /api/delegate/platform - mint a
// platform identity from the relay wallet
func (s *Server) handleDelegatePlatform(w http.ResponseWriter, r *http.Request) {
	var req service.MintPlatformRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	result, err := s.delegateService.MintPlatform(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleDelegateProposal handles POST /api/delegate/proposal - post a
// proposal from the relay wallet
func (s *Server) handleDelegateProposal(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProposalRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	result, err := s.delegateService.CreateProposal(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleDelegateMintReview handles POST /api/delegate/mint-review - mint a
// review from the relay wallet
func (s *Server) handleDelegateMintReview(w http.ResponseWriter, r *http.Request) {
	var req service.MintReviewRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body"))
		return
	}

	result, err := s.delegateService.MintReview(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
