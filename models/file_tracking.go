// models/file_tracking.go
package models

import "time"

// FileTracking is the idempotency ledger entry for one file of one tenant.
// FirstProcessed, LastProcessed and FileHash only move on success; failed
// attempts are recorded in LastAttemptAt/LastStatus/LastError.
type FileTracking struct {
	ID             int64      `db:"id" json:"id"`
	TenantID       int64      `db:"tenant_id" json:"tenant_id"`
	FilePath       string     `db:"file_path" json:"file_path"`
	FileHash       string     `db:"file_hash" json:"file_hash,omitempty"`
	ReportType     string     `db:"report_type" json:"report_type,omitempty"`
	TargetTable    string     `db:"target_table" json:"target_table,omitempty"`
	FirstProcessed *time.Time `db:"first_processed" json:"first_processed,omitempty"`
	LastProcessed  *time.Time `db:"last_processed" json:"last_processed,omitempty"`
	LastAttemptAt  *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastStatus     string     `db:"last_status" json:"last_status,omitempty"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
}
