package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	openCount func() int // nil in api-only processes without a local book
}

// NewHealthHandler creates a HealthHandler. openCount may be nil.
func NewHealthHandler(mode string, startedAt time.Time, openCount func() int) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: startedAt,
		openCount: openCount,
	}
}

// HealthCheck reports process health and basic runtime facts.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"time":           time.Now().UTC().Format(time.RFC3339),
	}
	if h.openCount != nil {
		body["open_positions"] = h.openCount()
	}
	writeJSON(w, http.StatusOK, body)
}
