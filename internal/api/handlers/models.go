package handlers

import (
	"net/http"

	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/health"
	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// ModelHandler serves the loaded-model listing, manual reload and
// operator invalidation.
type ModelHandler struct {
	pool     *modelpool.Pool
	reloader *modelpool.Reloader
	tracker  *health.Tracker
	cache    *features.Cache
	logger   *logger.Logger
}

// NewModelHandler creates a new model handler.
func NewModelHandler(
	pool *modelpool.Pool,
	reloader *modelpool.Reloader,
	tracker *health.Tracker,
	cache *features.Cache,
	log *logger.Logger,
) *ModelHandler {
	return &ModelHandler{
		pool:     pool,
		reloader: reloader,
		tracker:  tracker,
		cache:    cache,
		logger:   log,
	}
}

// List returns the currently loaded (task, framework, version) triples.
// GET /models
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.pool.Active()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation(),
		"loaded_at":  snap.LoadedAt(),
		"models":     snap.Triples(),
	})
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

// Invalidate drops readiness until the next successful reload and clears
// cached feature vectors. The loaded snapshot stays untouched so in-flight
// predictions finish. Used when upstream data or the feature schema is
// known to be bad.
// POST /models/invalidate
func (h *ModelHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "invalidated by operator"
	}

	h.tracker.Invalidate(req.Reason)
	h.cache.Invalidate()

	h.logger.WithField("reason", req.Reason).Warn("Serving invalidated by operator")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "invalidated",
		"reason": req.Reason,
	})
}

// Reload triggers a synchronous pool reload. On rejection the previous
// snapshot stays active and the reason comes back with a 500.
// POST /models/reload
func (h *ModelHandler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reloader.Reload(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual reload failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation(),
		"loaded_at":  snap.LoadedAt(),
		"models":     snap.Len(),
	})
}
