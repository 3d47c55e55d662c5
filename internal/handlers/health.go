package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/hlog"

	"leadflow/internal/storage"
)

const readinessTimeout = 3 * time.Second

type HealthHandler struct {
	db    *sqlx.DB
	blobs storage.BlobStore
}

func NewHealthHandler(db *sqlx.DB, blobs storage.BlobStore) *HealthHandler {
	return &HealthHandler{db: db, blobs: blobs}
}

func (h *HealthHandler) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "leadflow",
			"time":    time.Now().Unix(),
		})
	}
}

// Ready checks the database and the blob store.
func (h *HealthHandler) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "storage": "ok"}
		ready := true
		if err := h.db.PingContext(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Database not ready")
			checks["database"] = err.Error()
			ready = false
		}
		if h.blobs != nil {
			if err := h.blobs.Ping(ctx); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("Blob store not ready")
				checks["storage"] = err.Error()
				ready = false
			}
		}

		if !ready {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "checks": checks})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "checks": checks})
	}
}
