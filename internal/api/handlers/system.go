package handlers

import (
	"net/http"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/health"
	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// SystemHandler serves health, liveness, readiness and the task catalog.
type SystemHandler struct {
	tracker *health.Tracker
	pool    *modelpool.Pool
	cache   *features.Cache
	catalog *catalog.Catalog
	logger  *logger.Logger
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(
	tracker *health.Tracker,
	pool *modelpool.Pool,
	cache *features.Cache,
	cat *catalog.Catalog,
	log *logger.Logger,
) *SystemHandler {
	return &SystemHandler{
		tracker: tracker,
		pool:    pool,
		cache:   cache,
		catalog: cat,
		logger:  log,
	}
}

// Health returns overall status, loaded model count, snapshot generation
// and cache counters.
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.tracker.Current()
	snap := h.pool.Active()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status.Status,
		"ready":          status.Ready,
		"degraded":       status.Degraded,
		"reason":         status.Reason,
		"models":         snap.Len(),
		"generation":     snap.Generation(),
		"last_reload_at": status.LastReloadAt,
		"feature_cache":  h.cache.Stats(),
	})
}

// Live always returns 200 once the process accepts connections.
// GET /live
func (h *SystemHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready returns 200 once the pool holds a good snapshot, else 503.
// GET /ready
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.tracker.Ready() {
		respondError(w, http.StatusServiceUnavailable, "model pool not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Tasks returns the configured task definitions.
// GET /tasks
func (h *SystemHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": h.catalog.Tasks,
	})
}
