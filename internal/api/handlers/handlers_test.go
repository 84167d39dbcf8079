package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/health"
	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/internal/predict"
	"github.com/sibylquant/sibyl/internal/registry"
	"github.com/sibylquant/sibyl/internal/scoring"
	"github.com/sibylquant/sibyl/pkg/logger"
)

type fakeScorer struct {
	framework string
	score     scoring.Score
}

func (f *fakeScorer) Framework() string { return f.framework }

func (f *fakeScorer) Score(_ context.Context, _ *features.Vector) (scoring.Score, error) {
	return f.score, nil
}

type fakeComputer struct{}

func (fakeComputer) Compute(_ context.Context, entity, schemaVersion string) (*features.Vector, error) {
	return &features.Vector{
		Entity:        entity,
		SchemaVersion: schemaVersion,
		Names:         []string{"ret_1"},
		Values:        []float64{0.01},
		ComputedAt:    time.Now(),
	}, nil
}

type fakeRegistry struct {
	entries []registry.Entry
	err     error
}

func (f *fakeRegistry) ListProductionModels(_ context.Context) ([]registry.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeRegistry) Fetch(_ context.Context, ref string) (*registry.Artifact, error) {
	return &registry.Artifact{Ref: ref, Payload: json.RawMessage(`{"coefficients": {"ret_1": 1}}`)}, nil
}

type fakeFactory struct{}

func (fakeFactory) New(framework string, _ json.RawMessage) (scoring.Scorer, error) {
	return &fakeScorer{framework: framework, score: scoring.Score{Value: 0.1}}, nil
}

type fixture struct {
	catalog  *catalog.Catalog
	pool     *modelpool.Pool
	tracker  *health.Tracker
	cache    *features.Cache
	executor *predict.Executor
	log      *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catalog.New(
		[]catalog.Task{
			{Name: "return_1step", Kind: catalog.KindRegression, Horizon: "1h"},
			{Name: "direction_4step", Kind: catalog.KindBinary, Classes: 2, Horizon: "4h"},
		},
		[]string{"BTCUSDT", "ETHUSDT"},
	)
	if err != nil {
		t.Fatalf("catalog.New() failed: %v", err)
	}

	pool := modelpool.NewPool(zerolog.Nop())
	cache := features.NewCache(fakeComputer{}, time.Minute, time.Second, zerolog.Nop())
	t.Cleanup(cache.Close)

	return &fixture{
		catalog:  cat,
		pool:     pool,
		tracker:  health.NewTracker(),
		cache:    cache,
		executor: predict.NewExecutor(cat, cache, pool, "v1", 5*time.Second, 4, zerolog.Nop()),
		log:      logger.NewDefault(),
	}
}

func (f *fixture) loadModels(t *testing.T) {
	t.Helper()
	_, err := f.pool.Reload([]*modelpool.Model{
		{
			Key:     modelpool.Key{Task: "return_1step", Framework: "linear"},
			Version: "7",
			Scorer:  &fakeScorer{framework: "linear", score: scoring.Score{Value: 0.1}},
		},
	})
	if err != nil {
		t.Fatalf("pool.Reload() failed: %v", err)
	}
	f.tracker.RecordSuccess(1, 1)
}

func TestReadyEndpoint(t *testing.T) {
	f := newFixture(t)
	h := NewSystemHandler(f.tracker, f.pool, f.cache, f.catalog, f.log)

	// Before the first reload the service is not ready.
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", rec.Code)
	}

	f.loadModels(t)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewSystemHandler(f.tracker, f.pool, f.cache, f.catalog, f.log)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["generation"].(float64) != 1 {
		t.Errorf("generation = %v, want 1", body["generation"])
	}
	if body["models"].(float64) != 1 {
		t.Errorf("models = %v, want 1", body["models"])
	}
	if _, ok := body["feature_cache"]; !ok {
		t.Error("feature_cache missing from health payload")
	}
}

func TestTasksEndpoint(t *testing.T) {
	f := newFixture(t)
	h := NewSystemHandler(f.tracker, f.pool, f.cache, f.catalog, f.log)

	rec := httptest.NewRecorder()
	h.Tasks(rec, httptest.NewRequest("GET", "/tasks", nil))

	var body struct {
		Tasks []catalog.Task `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(body.Tasks))
	}
}

func TestPredictEndpoint(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/BTCUSDT", strings.NewReader(`{"tasks": ["return_1step"]}`))
	req = mux.SetURLVars(req, map[string]string{"entity": "BTCUSDT"})

	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result predict.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if result.Entity != "BTCUSDT" {
		t.Errorf("Entity = %s", result.Entity)
	}
	if _, ok := result.Tasks["return_1step"]; !ok {
		t.Error("return_1step missing from result")
	}
}

func TestPredictEndpointEmptyBodyMeansAllTasks(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/BTCUSDT", nil)
	req = mux.SetURLVars(req, map[string]string{"entity": "BTCUSDT"})

	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result predict.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(result.Tasks) != 2 {
		t.Errorf("Expected all 2 tasks, got %d", len(result.Tasks))
	}
}

func TestPredictEndpointUnknownEntity(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/DOGEUSDT", nil)
	req = mux.SetURLVars(req, map[string]string{"entity": "DOGEUSDT"})

	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestPredictEndpointUnknownTask(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/BTCUSDT", strings.NewReader(`{"tasks": ["nope"]}`))
	req = mux.SetURLVars(req, map[string]string{"entity": "BTCUSDT"})

	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestPredictEndpointMalformedBody(t *testing.T) {
	f := newFixture(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/BTCUSDT", strings.NewReader(`{not json`))
	req = mux.SetURLVars(req, map[string]string{"entity": "BTCUSDT"})

	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestPredictBatchEndpoint(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewPredictHandler(f.executor, f.log)

	req := httptest.NewRequest("POST", "/predict/batch", strings.NewReader(`{"entities": ["BTCUSDT", "ETHUSDT"]}`))

	rec := httptest.NewRecorder()
	h.PredictBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result predict.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(result.Entities) != 2 {
		t.Errorf("Expected 2 entity outcomes, got %d", len(result.Entities))
	}
}

func TestModelsEndpoints(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)

	reloader := modelpool.NewReloader(
		&fakeRegistry{entries: []registry.Entry{
			{Task: "return_1step", Framework: "linear", Version: "8", ArtifactRef: "a"},
		}},
		fakeFactory{},
		f.pool,
		f.tracker,
		zerolog.Nop(),
	)
	h := NewModelHandler(f.pool, reloader, f.tracker, f.cache, f.log)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("List status = %d, want 200", rec.Code)
	}

	var listing struct {
		Generation uint64             `json:"generation"`
		Models     []modelpool.Triple `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if listing.Generation != 1 || len(listing.Models) != 1 {
		t.Errorf("listing = %+v", listing)
	}

	rec = httptest.NewRecorder()
	h.Reload(rec, httptest.NewRequest("POST", "/models/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Reload status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	if gen := f.pool.Active().Generation(); gen != 2 {
		t.Errorf("Generation after reload = %d, want 2", gen)
	}
}

func TestModelsReloadFailure(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)

	reloader := modelpool.NewReloader(
		&fakeRegistry{err: errors.New("registry down")},
		fakeFactory{},
		f.pool,
		f.tracker,
		zerolog.Nop(),
	)
	h := NewModelHandler(f.pool, reloader, f.tracker, f.cache, f.log)

	rec := httptest.NewRecorder()
	h.Reload(rec, httptest.NewRequest("POST", "/models/reload", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", rec.Code)
	}

	// Rejected reload leaves the previous snapshot serving.
	if gen := f.pool.Active().Generation(); gen != 1 {
		t.Errorf("Generation after failed reload = %d, want 1", gen)
	}
}

func TestModelsInvalidate(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewModelHandler(f.pool, nil, f.tracker, f.cache, f.log)
	system := NewSystemHandler(f.tracker, f.pool, f.cache, f.catalog, f.log)

	if _, err := f.cache.GetOrCompute(context.Background(), "BTCUSDT", "v1"); err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Invalidate(rec, httptest.NewRequest("POST", "/models/invalidate", strings.NewReader(`{"reason": "bad candle backfill"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	if f.tracker.Ready() {
		t.Error("Tracker still ready after invalidation")
	}
	if status := f.tracker.Current(); status.Reason != "bad candle backfill" {
		t.Errorf("Reason = %q, want the operator-supplied reason", status.Reason)
	}
	if size := f.cache.Stats().Size; size != 0 {
		t.Errorf("Cache size after invalidation = %d, want 0", size)
	}

	// The loaded snapshot stays so in-flight predictions finish.
	if gen := f.pool.Active().Generation(); gen != 1 {
		t.Errorf("Generation after invalidation = %d, want 1", gen)
	}

	rec = httptest.NewRecorder()
	system.Ready(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Ready status after invalidation = %d, want 503", rec.Code)
	}

	// Readiness comes back only through a successful reload.
	f.tracker.RecordSuccess(1, 1)
	rec = httptest.NewRecorder()
	system.Ready(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Ready status after recovery = %d, want 200", rec.Code)
	}
}

func TestModelsInvalidateDefaultReason(t *testing.T) {
	f := newFixture(t)
	f.loadModels(t)
	h := NewModelHandler(f.pool, nil, f.tracker, f.cache, f.log)

	rec := httptest.NewRecorder()
	h.Invalidate(rec, httptest.NewRequest("POST", "/models/invalidate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	if f.tracker.Ready() {
		t.Error("Tracker still ready after invalidation")
	}
	if status := f.tracker.Current(); status.Reason == "" {
		t.Error("Expected a default reason for a bodyless invalidation")
	}
}
