package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/windfall/prosody_service/internal/service"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	status service.ServiceStatus
	checks []ReadinessCheck
	ready  atomic.Bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(status service.ServiceStatus, checks ...ReadinessCheck) *HealthHandler {
	h := &HealthHandler{status: status, checks: checks}
	h.ready.Store(true)
	return h
}

// SetReady sets the ready state.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Root reports the service banner. It always answers 200.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status)
}

// Health checks if the service is healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "prosody_service",
	})
}

// Ready checks if the service and its configured dependencies can take
// traffic.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Live checks if the service is alive (for Kubernetes liveness probe).
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
