package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/service"
	"github.com/marketplace-relay/internal/types"
)

// notifyRoutes maps the notify route suffix to its email type.
var notifyRoutes = map[string]types.EmailType{
	"proposal-validated": types.EmailProposalValidated,
	"new-proposal":       types.EmailNewProposal,
}

// handleNotifyRun handles GET /api/notify/{emailType} - run one dispatch
// pass and report the outcome as plain text. An optional sinceTimestamp
// query parameter (unix seconds) overrides the stored watermark; such
// manual runs do not advance the checkpoint.
func (s *Server) handleNotifyRun(w http.ResponseWriter, r *http.Request) {
	suffix := mux.Vars(r)["emailType"]

	emailType, ok := notifyRoutes[suffix]
	if !ok {
		respondError(w, apperrors.NewNotFoundError("notification category", suffix))
		return
	}

	runner, ok := s.dispatchers[suffix]
	if !ok {
		respondError(w, apperrors.NewNotFoundError("notification category", suffix))
		return
	}

	input := service.RunInput{EmailType: emailType}
	if raw := r.URL.Query().Get("sinceTimestamp"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, apperrors.NewInvalidInputError("sinceTimestamp must be a unix timestamp in seconds"))
			return
		}
		since := time.Unix(seconds, 0)
		input.Since = &since
	}

	stats, err := runner.Run(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(stats.Summary()))
}

// handleNotifyStats handles GET /api/notify/stats - notification activity report
func (s *Server) handleNotifyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.statsService.Snapshot(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
