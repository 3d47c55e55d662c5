package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"leadflow/internal/models"
)

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, statusCode int, msg string) {
	respondWithJSON(w, statusCode, map[string]interface{}{
		"code":    statusCode,
		"error":   msg,
		"success": false,
	})
}

// respondFailure maps sentinel errors to status codes and logs the rest.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrDuplicate):
		respondError(w, r, http.StatusConflict, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Operator request failed")
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
