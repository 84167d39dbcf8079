package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/predict"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// PredictHandler serves single-entity and batch prediction requests.
type PredictHandler struct {
	executor *predict.Executor
	logger   *logger.Logger
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(executor *predict.Executor, log *logger.Logger) *PredictHandler {
	return &PredictHandler{
		executor: executor,
		logger:   log,
	}
}

type predictRequest struct {
	Tasks []string `json:"tasks"`
}

type batchRequest struct {
	Entities []string `json:"entities"`
	Tasks    []string `json:"tasks"`
}

// Predict scores one entity. An empty or omitted task list means all
// configured tasks.
// POST /predict/{entity}
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]

	var req predictRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.executor.Predict(r.Context(), entity, req.Tasks)
	if err != nil {
		h.respondPredictError(w, entity, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// PredictBatch scores multiple entities independently.
// POST /predict/batch
func (h *PredictHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.executor.PredictBatch(r.Context(), req.Entities, req.Tasks)
	if err != nil {
		h.respondPredictError(w, "batch", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// respondPredictError maps request-scoped executor failures to statuses:
// unknown entity 404, unknown task 400, features unavailable 503.
func (h *PredictHandler) respondPredictError(w http.ResponseWriter, entity string, err error) {
	switch {
	case errors.Is(err, predict.ErrUnknownEntity):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, predict.ErrUnknownTask):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, features.ErrFeatureUnavailable):
		h.logger.WithError(err).WithField("entity", entity).Error("Features unavailable")
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.WithError(err).WithField("entity", entity).Error("Prediction failed")
		respondError(w, http.StatusInternalServerError, "prediction failed")
	}
}

// decodeOptionalBody decodes a JSON body, treating an absent body as the
// zero request.
func decodeOptionalBody(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dest)
	if err == io.EOF {
		return nil
	}
	return err
}
