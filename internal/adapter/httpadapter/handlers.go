package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

const maxReportBytes = 4 << 20

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if s.api.Builder == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment is not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	report, err := domain.ParseHazardReport(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.api.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.api.Timeout)
		defer cancel()
	}

	card, err := s.api.Builder.Build(ctx, report)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidGeometry):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		s.logger.Warn("enrichment timed out, returning partial card",
			"incident_id", report.ID, "degraded", card.DegradedFields())
	case r.Context().Err() != nil:
		// client went away
		return
	default:
		s.logger.Error("enrichment failed", "incident_id", report.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, card.Markdown()) //nolint:errcheck // best-effort response
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, card)
}

func (s *Server) handleGeometry(w http.ResponseWriter, r *http.Request) {
	if s.api.Geometries == nil {
		writeError(w, http.StatusNotFound, "geometry not found")
		return
	}
	key := chi.URLParam(r, "key")
	data, ok := s.api.Geometries.GeoJSON(key)
	if !ok {
		writeError(w, http.StatusNotFound, "geometry not found")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
