package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/private-symposium-go/internal/services/storage"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// HealthHandler serves GET /health
type HealthHandler struct {
	store   storage.Store
	version string
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(store storage.Store, version string) *HealthHandler {
	return &HealthHandler{store: store, version: version}
}

// CheckHealth reports "ok", or "degraded" with 503 when storage is unreachable
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}
