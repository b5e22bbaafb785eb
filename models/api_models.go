// models/api_models.go
package models

import "time"

// SyncOptions tunes one sync run.
type SyncOptions struct {
	Force bool   `json:"force"` // reprocess files even inside the freshness window
	RunID string `json:"run_id,omitempty"`
}

// FileOutcome is the per-file result of a sync run.
type FileOutcome string

const (
	OutcomeSuccess FileOutcome = "success"
	OutcomeSkipped FileOutcome = "skipped"
	OutcomeError   FileOutcome = "error"
)

// FileResult is one entry of SyncResult.Results.
type FileResult struct {
	Path         string      `json:"path"`
	Outcome      FileOutcome `json:"outcome"`
	ReportType   string      `json:"report_type,omitempty"`
	Table        string      `json:"table,omitempty"`
	RowsRead     int         `json:"rows_read,omitempty"`
	RowsInserted int         `json:"rows_inserted,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// SyncResult is the structured summary returned by TriggerSync, including on
// partial failure.
type SyncResult struct {
	RunID           string         `json:"run_id"`
	DataSourceID    int64          `json:"data_source_id"`
	Status          SyncStatus     `json:"status"`
	FilesProcessed  int            `json:"files_processed"`
	RecordsInserted int64          `json:"records_inserted"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalFiles      int            `json:"total_files"`
	FilesSkipped    int            `json:"files_skipped"`
	FilesErrored    int            `json:"files_errored"`
	SuccessRate     float64        `json:"success_rate"`
	SkipReasons     map[string]int `json:"skip_reasons,omitempty"`
	Results         []FileResult   `json:"results,omitempty"`
}

// Progress event types pushed to progress sinks.
const (
	EventSyncStart       = "sync_start"
	EventListingFiles    = "listing_files"
	EventProcessingFiles = "processing_files"
	EventSyncComplete    = "sync_complete"
	EventSyncError       = "sync_error"
)

// ProgressEvent is one push notification about a running sync.
type ProgressEvent struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id"`
	DataSourceID    int64     `json:"data_source_id"`
	Progress        int       `json:"progress"`
	Message         string    `json:"message,omitempty"`
	TotalFiles      int       `json:"total_files,omitempty"`
	FilesDone       int       `json:"files_done,omitempty"`
	FilesProcessed  int       `json:"files_processed"`
	FilesSkipped    int       `json:"files_skipped"`
	FilesErrored    int       `json:"files_errored"`
	RecordsInserted int64     `json:"records_inserted"`
	CurrentFile     string    `json:"current_file,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// SyncAccepted is returned when a sync is started in the background.
type SyncAccepted struct {
	RunID        string `json:"run_id"`
	DataSourceID int64  `json:"data_source_id"`
	Message      string `json:"message"`
}
