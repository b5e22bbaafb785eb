// ingest/errors.go
package ingest

import (
	"errors"
	"fmt"
)

// ErrNoHeader is returned for a CSV file without a header row.
var ErrNoHeader = errors.New("csv file has no header row")

// ClassificationMiss reports a path no routing rule accepts. It is not a
// failure of the run: the file is tallied as skipped under Reason.
type ClassificationMiss struct {
	Path   string
	Reason string
}

func (e *ClassificationMiss) Error() string {
	return fmt.Sprintf("unroutable file %q: %s", e.Path, e.Reason)
}

// ExtractionError means an archive could not be opened or holds no entry
// matching the expected inner CSV pattern.
type ExtractionError struct {
	Archive string
	Pattern string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("extract %s: no entry matches %s", e.Archive, e.Pattern)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RowCoercionError is a single field that could not be coerced to its
// declared type. It is recovered by substituting a default and logged.
type RowCoercionError struct {
	Column string
	Value  string
	Type   string
	Err    error
}

func (e *RowCoercionError) Error() string {
	return fmt.Sprintf("coerce %s=%q to %s: %v", e.Column, e.Value, e.Type, e.Err)
}

func (e *RowCoercionError) Unwrap() error { return e.Err }

// BulkInsertError is a batch the loader could not write. The batch is dropped
// and the file counted as errored.
type BulkInsertError struct {
	Table string
	Rows  int
	Err   error
}

func (e *BulkInsertError) Error() string {
	return fmt.Sprintf("bulk insert %d rows into %s: %v", e.Rows, e.Table, e.Err)
}

func (e *BulkInsertError) Unwrap() error { return e.Err }
