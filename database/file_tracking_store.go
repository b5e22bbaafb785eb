// database/file_tracking_store.go
package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/utils"
)

// maxErrorLen bounds last_error so one noisy failure cannot bloat the ledger.
const maxErrorLen = 2000

// PathHash is the indexed stand-in for a bucket path; full paths are too long
// for a utf8mb4 unique key.
func PathHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// FileTrackingStore is the per-tenant, per-file idempotency ledger.
type FileTrackingStore struct {
	db *sql.DB
}

func NewFileTrackingStore(db *sql.DB) *FileTrackingStore {
	return &FileTrackingStore{db: db}
}

// Get returns the tracking row for (tenant, path) or ErrNotFound.
func (s *FileTrackingStore) Get(ctx context.Context, tenantID int64, path string) (*models.FileTracking, error) {
	var (
		ft                              models.FileTracking
		hash, reportType, table, status sql.NullString
		lastErr                         sql.NullString
		first, last, attempt            sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, file_path, file_hash, report_type, target_table,
			first_processed, last_processed, last_attempt_at, last_status, last_error, is_deleted
		FROM file_tracking WHERE tenant_id = ? AND file_path_hash = ?`, tenantID, PathHash(path),
	).Scan(&ft.ID, &ft.TenantID, &ft.FilePath, &hash, &reportType, &table,
		&first, &last, &attempt, &status, &lastErr, &ft.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file tracking for %s: %w", path, err)
	}
	ft.FileHash = hash.String
	ft.ReportType = reportType.String
	ft.TargetTable = table.String
	ft.LastStatus = status.String
	ft.LastError = lastErr.String
	ft.FirstProcessed = timePtr(first)
	ft.LastProcessed = timePtr(last)
	ft.LastAttemptAt = timePtr(attempt)
	return &ft, nil
}

// Create inserts a marker row for a newly seen file. A concurrent insert of
// the same (tenant, path) is tolerated and the stored row is returned.
func (s *FileTrackingStore) Create(ctx context.Context, ft models.FileTracking) (*models.FileTracking, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO file_tracking (tenant_id, file_path, file_path_hash, report_type, target_table, is_deleted)
		VALUES (?, ?, ?, ?, ?, FALSE)`,
		ft.TenantID, ft.FilePath, PathHash(ft.FilePath), ft.ReportType, ft.TargetTable)
	if err != nil {
		return nil, fmt.Errorf("failed to create file tracking for %s: %w", ft.FilePath, err)
	}
	return s.Get(ctx, ft.TenantID, ft.FilePath)
}

// MarkSuccess records a completed file. first_processed is only set once.
func (s *FileTrackingStore) MarkSuccess(ctx context.Context, id int64, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_tracking
		SET file_hash = ?, last_processed = ?, first_processed = COALESCE(first_processed, ?),
			last_attempt_at = ?, last_status = ?, last_error = NULL
		WHERE id = ?`,
		hash, at, at, at, string(models.OutcomeSuccess), id)
	if err != nil {
		return fmt.Errorf("failed to mark file tracking %d processed: %w", id, err)
	}
	return nil
}

// MarkFailure records a failed attempt without touching the last good state.
func (s *FileTrackingStore) MarkFailure(ctx context.Context, id int64, errMsg string, at time.Time) error {
	errMsg = utils.TruncateBytes(errMsg, maxErrorLen)
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_tracking
		SET last_attempt_at = ?, last_status = ?, last_error = ?
		WHERE id = ?`,
		at, string(models.OutcomeError), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark file tracking %d failed: %w", id, err)
	}
	return nil
}
