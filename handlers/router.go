// handlers/router.go
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter wires the API routes, the health check and the metrics endpoint.
func NewRouter(api *API, gatherer prometheus.Gatherer, health HealthCheck) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				api.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "database connection error"})
				return
			}
		}
		api.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	ds := r.PathPrefix("/api/datasources").Subrouter()
	ds.HandleFunc("", api.CreateDataSourceHandler).Methods(http.MethodPost)
	ds.HandleFunc("/{id:[0-9]+}", api.GetDataSourceHandler).Methods(http.MethodGet)
	ds.HandleFunc("/{id:[0-9]+}/sync", api.TriggerSyncHandler).Methods(http.MethodPost)
	ds.HandleFunc("/{id:[0-9]+}/history", api.HistoryHandler).Methods(http.MethodGet)
	ds.HandleFunc("/{id:[0-9]+}/history.csv", api.HistoryHandler).Methods(http.MethodGet)
	ds.HandleFunc("/{id:[0-9]+}/progress", api.ProgressHandler).Methods(http.MethodGet)
	return r
}
