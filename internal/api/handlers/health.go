package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/anstrom/reconradar/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthResponse reports service health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler answers GET /api/health.
type HealthHandler struct {
	baseHandler
	store     store.Store
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler that probes s.
func NewHealthHandler(s store.Store, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(logger),
		store:       s,
		version:     version,
		startTime:   time.Now(),
	}
}

// Health checks that the store answers queries.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Checks:    map[string]string{},
	}

	if err := store.Check(ctx, h.store); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["store"] = "failed: " + err.Error()
	} else {
		resp.Checks["store"] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, r, status, resp)
}
