package handlers

import (
	"context"
	"net/http"

	"github.com/cyclopcam/logs"
)

// Pinger is a backing store the health check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness of the process and, when configured, its database.
type HealthHandler struct {
	db  Pinger
	log logs.Log
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db Pinger, log logs.Log) *HealthHandler {
	return &HealthHandler{db: db, log: log}
}

// Get handles the health check endpoint.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.log.Warnf("Health check: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
	})
}
