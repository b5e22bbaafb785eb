// handlers/sync_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
)

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// TriggerSyncHandler starts a sync of one data source.
// Expects POST /api/datasources/{id}/sync[?force=true][&wait=true]. Without
// wait the run continues in the background and 202 carries the run id; with
// wait the response is the full run summary.
func (a *API) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := dataSourceID(r)
	if !ok {
		a.respondWithError(w, http.StatusBadRequest, "Invalid data source id")
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		a.respondWithError(w, http.StatusBadRequest, "Invalid 'force' parameter")
		return
	}
	wait, err := queryBool(r, "wait")
	if err != nil {
		a.respondWithError(w, http.StatusBadRequest, "Invalid 'wait' parameter")
		return
	}
	opts := models.SyncOptions{Force: force}

	if wait {
		result, err := a.sync.TriggerSync(r.Context(), id, opts)
		if err != nil {
			a.respondWithServiceError(w, err)
			return
		}
		a.respondWithJSON(w, http.StatusOK, result)
		return
	}

	runID, err := a.sync.StartSync(r.Context(), id, opts)
	if err != nil {
		a.respondWithServiceError(w, err)
		return
	}
	a.respondWithJSON(w, http.StatusAccepted, models.SyncAccepted{
		RunID:        runID,
		DataSourceID: id,
		Message:      "sync started",
	})
}

// ProgressHandler streams progress events of a data source as Server-Sent
// Events until the run completes, fails, or the client disconnects.
func (a *API) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := dataSourceID(r)
	if !ok {
		a.respondWithError(w, http.StatusBadRequest, "Invalid data source id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.respondWithError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	if _, err := a.sources.GetDataSource(r.Context(), id); err != nil {
		a.respondWithServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.broker.Subscribe(id)
	defer a.broker.Unsubscribe(id, ch)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				a.logger.Debug("progress stream closed", zap.Int64("data_source_id", id), zap.Error(err))
				return
			}
			flusher.Flush()
			if ev.Type == models.EventSyncComplete || ev.Type == models.EventSyncError {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s-%d\nevent: %s\ndata: %s\n\n", ev.RunID, ev.Timestamp.UnixNano(), ev.Type, data)
	return err
}
