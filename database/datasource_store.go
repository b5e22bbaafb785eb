// database/datasource_store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gewnthar/playsync/models"
)

// ErrHistoryClosed is returned when closing a sync history row that is no
// longer running.
var ErrHistoryClosed = errors.New("sync history already closed")

// DataSourceStore persists data sources and their sync history.
type DataSourceStore struct {
	db *sql.DB
}

func NewDataSourceStore(db *sql.DB) *DataSourceStore {
	return &DataSourceStore{db: db}
}

// GetDataSource loads one data source.
func (s *DataSourceStore) GetDataSource(ctx context.Context, id int64) (*models.DataSource, error) {
	var (
		ds       models.DataSource
		lastSync sql.NullTime
		status   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, bucket_uri, sync_status, last_sync_at, created_at, updated_at
		FROM data_sources WHERE id = ?`, id,
	).Scan(&ds.ID, &ds.TenantID, &ds.Name, &ds.BucketURI, &status, &lastSync, &ds.CreatedAt, &ds.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data source %d: %w", id, err)
	}
	ds.Status = models.SyncStatus(status)
	ds.LastSyncAt = timePtr(lastSync)
	return &ds, nil
}

// CreateDataSource registers a bucket for a tenant, or returns the existing
// registration for the same (tenant, bucket).
func (s *DataSourceStore) CreateDataSource(ctx context.Context, tenantID int64, name, bucketURI string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_sources (tenant_id, name, bucket_uri, sync_status)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), id = LAST_INSERT_ID(id)`,
		tenantID, name, bucketURI, string(models.StatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to create data source for %s: %w", bucketURI, err)
	}
	return res.LastInsertId()
}

// UpdateStatus sets the sync status. lastSyncAt is only written when non-nil.
func (s *DataSourceStore) UpdateStatus(ctx context.Context, id int64, status models.SyncStatus, lastSyncAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE data_sources
		SET sync_status = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = NOW()
		WHERE id = ?`,
		string(status), nullTime(lastSyncAt), id)
	if err != nil {
		return fmt.Errorf("failed to update status of data source %d: %w", id, err)
	}
	return nil
}

// OpenHistory inserts a running history row and returns its id.
func (s *DataSourceStore) OpenHistory(ctx context.Context, dataSourceID int64, runID string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_source_sync_history (data_source_id, run_id, status, started_at, log_message)
		VALUES (?, ?, ?, ?, ?)`,
		dataSourceID, runID, string(models.StatusRunning), startedAt, "sync started")
	if err != nil {
		return 0, fmt.Errorf("failed to open sync history for data source %d: %w", dataSourceID, err)
	}
	return res.LastInsertId()
}

// CloseHistory finalizes a running history row. A row is closed exactly once.
func (s *DataSourceStore) CloseHistory(ctx context.Context, historyID int64, status models.SyncStatus, message string, totals models.SyncTotals, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE data_source_sync_history
		SET status = ?, ended_at = ?, log_message = ?, records_processed = ?,
			files_processed = ?, files_skipped = ?, files_errored = ?
		WHERE id = ? AND status = ?`,
		string(status), endedAt, message, totals.RecordsProcessed,
		totals.FilesProcessed, totals.FilesSkipped, totals.FilesErrored,
		historyID, string(models.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to close sync history %d: %w", historyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close sync history %d: %w", historyID, err)
	}
	if n == 0 {
		return fmt.Errorf("sync history %d: %w", historyID, ErrHistoryClosed)
	}
	return nil
}

// ListHistory returns the most recent runs of a data source, newest first.
func (s *DataSourceStore) ListHistory(ctx context.Context, dataSourceID int64, limit int) ([]models.SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data_source_id, run_id, status, started_at, ended_at, COALESCE(log_message, ''),
			records_processed, files_processed, files_skipped, files_errored
		FROM data_source_sync_history
		WHERE data_source_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, dataSourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history for data source %d: %w", dataSourceID, err)
	}
	defer rows.Close()

	var history []models.SyncHistory
	for rows.Next() {
		var (
			h      models.SyncHistory
			status string
			ended  sql.NullTime
		)
		if err := rows.Scan(&h.ID, &h.DataSourceID, &h.RunID, &status, &h.StartedAt, &ended, &h.LogMessage,
			&h.RecordsProcessed, &h.FilesProcessed, &h.FilesSkipped, &h.FilesErrored); err != nil {
			return nil, fmt.Errorf("failed to scan sync history row: %w", err)
		}
		h.Status = models.SyncStatus(status)
		h.EndedAt = timePtr(ended)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync history rows: %w", err)
	}
	return history, nil
}
