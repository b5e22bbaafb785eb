// handlers/admin_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jszwec/csvutil"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/services"
	"github.com/gewnthar/playsync/storage"
)

// DataSourceStore is the persistence the admin endpoints need.
type DataSourceStore interface {
	GetDataSource(ctx context.Context, id int64) (*models.DataSource, error)
	CreateDataSource(ctx context.Context, tenantID int64, name, bucketURI string) (int64, error)
	ListHistory(ctx context.Context, dataSourceID int64, limit int) ([]models.SyncHistory, error)
}

// SyncRunner starts sync runs.
type SyncRunner interface {
	TriggerSync(ctx context.Context, dataSourceID int64, opts models.SyncOptions) (*models.SyncResult, error)
	StartSync(ctx context.Context, dataSourceID int64, opts models.SyncOptions) (string, error)
}

// API serves the data source and sync endpoints.
type API struct {
	sources DataSourceStore
	sync    SyncRunner
	broker  *services.Broker
	logger  *zap.Logger
}

func NewAPI(sources DataSourceStore, sync SyncRunner, broker *services.Broker, logger *zap.Logger) *API {
	return &API{sources: sources, sync: sync, broker: broker, logger: logger.With(zap.String("component", "http"))}
}

type createDataSourceRequest struct {
	TenantID  int64  `json:"tenant_id"`
	Name      string `json:"name"`
	BucketURI string `json:"bucket_uri"`
}

// Helper to respond with JSON
func (a *API) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("failed to marshal JSON response", zap.Error(err))
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper to respond with an error
func (a *API) respondWithError(w http.ResponseWriter, code int, message string) {
	if code >= http.StatusInternalServerError {
		a.logger.Error("API error", zap.Int("status", code), zap.String("message", message))
	} else {
		a.logger.Info("API error", zap.Int("status", code), zap.String("message", message))
	}
	a.respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps sync and store errors onto HTTP statuses.
func (a *API) respondWithServiceError(w http.ResponseWriter, err error) {
	var accessErr *storage.BucketAccessError
	switch {
	case errors.Is(err, database.ErrNotFound):
		a.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrSyncInProgress):
		a.respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &accessErr):
		a.respondWithError(w, http.StatusBadGateway, err.Error())
	default:
		a.respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

func dataSourceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// CreateDataSourceHandler registers a bucket for a tenant.
// Expects POST /api/datasources with {"tenant_id": 1, "name": "...", "bucket_uri": "gs://..."}.
func (a *API) CreateDataSourceHandler(w http.ResponseWriter, r *http.Request) {
	var req createDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	if req.TenantID <= 0 {
		a.respondWithError(w, http.StatusBadRequest, "Missing 'tenant_id' in request body")
		return
	}
	uri, err := storage.ParseBucketURI(req.BucketURI)
	if err != nil {
		a.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = uri.Bucket
	}

	id, err := a.sources.CreateDataSource(r.Context(), req.TenantID, req.Name, uri.String())
	if err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	ds, err := a.sources.GetDataSource(r.Context(), id)
	if err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	a.respondWithJSON(w, http.StatusCreated, ds)
}

// GetDataSourceHandler serves GET /api/datasources/{id}.
func (a *API) GetDataSourceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := dataSourceID(r)
	if !ok {
		a.respondWithError(w, http.StatusBadRequest, "Invalid data source id")
		return
	}
	ds, err := a.sources.GetDataSource(r.Context(), id)
	if err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	a.respondWithJSON(w, http.StatusOK, ds)
}

// HistoryHandler serves GET /api/datasources/{id}/history[?limit=N]. The
// .csv variant of the route returns the same rows as CSV.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := dataSourceID(r)
	if !ok {
		a.respondWithError(w, http.StatusBadRequest, "Invalid data source id")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	if _, err := a.sources.GetDataSource(r.Context(), id); err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	history, err := a.sources.ListHistory(r.Context(), id, limit)
	if err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	if history == nil {
		history = []models.SyncHistory{}
	}

	if !strings.HasSuffix(r.URL.Path, ".csv") {
		a.respondWithJSON(w, http.StatusOK, history)
		return
	}
	body, err := csvutil.Marshal(history)
	if err != nil {
		a.respondWithError(w, http.StatusInternalServerError, "Failed to encode history: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=sync_history_"+strconv.FormatInt(id, 10)+".csv")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
