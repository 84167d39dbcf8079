package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sibylquant/sibyl/internal/api/handlers"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// NewRouter creates and configures the HTTP router. Routing lives only
// in this function.
func NewRouter(
	systemHandler *handlers.SystemHandler,
	modelHandler *handlers.ModelHandler,
	predictHandler *handlers.PredictHandler,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Orchestrator probes
	r.HandleFunc("/health", systemHandler.Health).Methods("GET")
	r.HandleFunc("/live", systemHandler.Live).Methods("GET")
	r.HandleFunc("/ready", systemHandler.Ready).Methods("GET")

	// Catalog and loaded models
	r.HandleFunc("/tasks", systemHandler.Tasks).Methods("GET")
	r.HandleFunc("/models", modelHandler.List).Methods("GET")
	r.HandleFunc("/models/reload", modelHandler.Reload).Methods("POST")
	r.HandleFunc("/models/invalidate", modelHandler.Invalidate).Methods("POST")

	// Prediction. The batch route registers first so "batch" is not
	// captured as an entity name.
	r.HandleFunc("/predict/batch", predictHandler.PredictBatch).Methods("POST")
	r.HandleFunc("/predict/{entity}", predictHandler.Predict).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
