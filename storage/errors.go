// storage/errors.go
package storage

import "fmt"

// BucketAccessError means the bucket could not be listed at all. It is the
// only storage failure that aborts a sync run.
type BucketAccessError struct {
	URI string
	Err error
}

func (e *BucketAccessError) Error() string {
	return fmt.Sprintf("access bucket %s: %v", e.URI, e.Err)
}

func (e *BucketAccessError) Unwrap() error { return e.Err }

// DownloadError is a single object that could not be fetched.
type DownloadError struct {
	Key string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Key, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
