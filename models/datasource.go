// models/datasource.go
package models

import "time"

type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusRunning SyncStatus = "running"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
	StatusWarning SyncStatus = "warning"
)

// DataSource is one bucket linked by a tenant. Unique per (tenant, bucket URI).
type DataSource struct {
	ID         int64      `db:"id" json:"id"`
	TenantID   int64      `db:"tenant_id" json:"tenant_id"`
	Name       string     `db:"name" json:"name"`
	BucketURI  string     `db:"bucket_uri" json:"bucket_uri"`
	Status     SyncStatus `db:"sync_status" json:"status"`
	LastSyncAt *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// SyncHistory is the append-only record of one sync run. It is opened as
// running and closed exactly once.
type SyncHistory struct {
	ID               int64      `db:"id" json:"id" csv:"id"`
	DataSourceID     int64      `db:"data_source_id" json:"data_source_id" csv:"data_source_id"`
	RunID            string     `db:"run_id" json:"run_id" csv:"run_id"`
	Status           SyncStatus `db:"status" json:"status" csv:"status"`
	StartedAt        time.Time  `db:"started_at" json:"started_at" csv:"started_at"`
	EndedAt          *time.Time `db:"ended_at" json:"ended_at,omitempty" csv:"ended_at,omitempty"`
	LogMessage       string     `db:"log_message" json:"log_message" csv:"log_message"`
	RecordsProcessed int64      `db:"records_processed" json:"records_processed" csv:"records_processed"`
	FilesProcessed   int        `db:"files_processed" json:"files_processed" csv:"files_processed"`
	FilesSkipped     int        `db:"files_skipped" json:"files_skipped" csv:"files_skipped"`
	FilesErrored     int        `db:"files_errored" json:"files_errored" csv:"files_errored"`
}

// SyncTotals are the aggregate counters written when a history row is closed.
type SyncTotals struct {
	RecordsProcessed int64
	FilesProcessed   int
	FilesSkipped     int
	FilesErrored     int
}
