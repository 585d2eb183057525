package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/storage"
)

// RouterConfig holds what the router needs beyond the handlers
type RouterConfig struct {
	Version        string
	AllowedOrigins []string
	// WriterStats reports archive writer counters; nil when archiving is off
	WriterStats func() storage.WriterStats
}

// NewRouter wires every route and wraps the result in CORS handling
func NewRouter(api *APIHandler, ws *Handler, metrics *Metrics, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger(api.logger))

	// Full paths on the root router so a known path with the wrong method
	// answers 405
	router.HandleFunc("/api/readings", api.HandleIngest).Methods(http.MethodPost)
	router.HandleFunc("/api/readings", api.HandleReadings).Methods(http.MethodGet)
	router.HandleFunc("/api/readings", api.HandleClear).Methods(http.MethodDelete)
	router.HandleFunc("/api/readings/latest", api.HandleLatest).Methods(http.MethodGet)
	router.HandleFunc("/api/validate", api.HandleValidate).Methods(http.MethodPost)
	router.HandleFunc("/api/clean", api.HandleClean).Methods(http.MethodGet)
	router.HandleFunc("/api/analytics", api.HandleAnalytics).Methods(http.MethodGet)
	router.HandleFunc("/api/export", api.HandleExport).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", api.HandleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/sensors", api.HandleSensors).Methods(http.MethodGet)
	router.HandleFunc("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ws.GetActiveSensors())
	}).Methods(http.MethodGet)

	if api.archive != nil {
		router.HandleFunc("/api/archive/stats", api.HandleArchiveStats).Methods(http.MethodGet)
		router.HandleFunc("/api/archive/readings", api.HandleArchiveReadings).Methods(http.MethodGet)
		router.HandleFunc("/api/archive/latest", api.HandleArchiveLatest).Methods(http.MethodGet)
		router.HandleFunc("/api/archive/daily", api.HandleArchiveDaily).Methods(http.MethodGet)
	}

	router.Handle("/sensor-stream", ws)
	router.HandleFunc("/metrics", metrics.Handler(api.pipeline, cfg.WriterStats)).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": cfg.Version})
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

// requestLogger logs every request except the WebSocket stream, which
// logs on its own
func requestLogger(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/sensor-stream" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("Request served")
		})
	}
}
