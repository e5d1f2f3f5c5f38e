package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/session"
	"github.com/thereal-baitjet/Stream-Slicer/internal/upload"
)

type errorResponse struct {
	Error string        `json:"error"`
	Kind  analysis.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAnalysisInFlight),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrNoFile):
		return http.StatusConflict
	case errors.Is(err, upload.ErrTooLarge), errors.Is(err, session.ErrTrialTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrNotVideo):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest
	}
	switch analysis.KindOf(err) {
	case analysis.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case analysis.KindInvalidInput:
		return http.StatusBadRequest
	case analysis.KindConfiguration, analysis.KindAuthorization:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: analysis.KindOf(err)})
	return status
}
