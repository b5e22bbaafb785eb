// models/descriptor.go
package models

import "time"

type FileKind string

const (
	KindCSV FileKind = "csv"
	KindZip FileKind = "zip"
)

// FileDescriptor is the router's output for one bucket object.
type FileDescriptor struct {
	OriginalPath   string
	Kind           FileKind
	ReportType     string
	Table          string
	Dimension      string // empty for overview and single-table routes
	AppPackage     string
	ReportPeriod   string // YYYYMM
	SubscriptionID string
	InnerPattern   string // zip routes only
	TenantID       int64
	DataSourceID   int64
	BucketURI      string
}

// Row is one CSV record keyed by normalized header.
type Row map[string]string

// DestinationRow is a transformed row ready for one destination table.
type DestinationRow map[string]any

// ObjectInfo describes one object listed from a bucket.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
