package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/scoring"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// maxBodyBytes bounds JSON and table uploads.
const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// an internal error and its message is not echoed.
func writeError(w http.ResponseWriter, err error) {
	var (
		cfgErr   *scoring.ConfigurationError
		paramErr *scoring.ParameterError
		failure  *fitting.FitFailure
	)
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &paramErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &failure):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "reason": string(failure.Reason)})
	case errors.Is(err, scoring.ErrInvalidRequest), errors.Is(err, store.ErrInvalidRow):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// finite returns nil for values JSON cannot carry, such as the +Inf an
// inverse returns on an asymptote.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
