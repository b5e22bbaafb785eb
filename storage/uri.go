// storage/uri.go
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/gewnthar/playsync/models"
)

// Supported URI schemes.
const (
	SchemeS3   = "s3"
	SchemeGCS  = "gs"
	SchemeFile = "file"
)

// Play Console buckets are often linked by bare name.
const playBucketPrefix = "pubsite_prod_rev_"

// BucketURI is a parsed scheme://bucket[/prefix] reference.
type BucketURI struct {
	Scheme string
	Bucket string
	Prefix string
}

func (u BucketURI) String() string {
	if u.Prefix == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Prefix
}

// ParseBucketURI accepts s3://, gs:// and file:// URIs plus bare Play Console
// bucket names, which are treated as gs. For file:// everything after the
// scheme is the directory.
func ParseBucketURI(raw string) (BucketURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BucketURI{}, fmt.Errorf("empty bucket uri")
	}
	if !strings.Contains(raw, "://") {
		if strings.HasPrefix(raw, playBucketPrefix) {
			raw = SchemeGCS + "://" + raw
		} else {
			return BucketURI{}, fmt.Errorf("bucket uri %q has no scheme", raw)
		}
	}

	scheme, rest, _ := strings.Cut(raw, "://")
	scheme = strings.ToLower(scheme)
	switch scheme {
	case SchemeFile:
		if rest == "" {
			return BucketURI{}, fmt.Errorf("bucket uri %q has no path", raw)
		}
		return BucketURI{Scheme: scheme, Bucket: rest}, nil
	case SchemeS3, SchemeGCS:
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return BucketURI{}, fmt.Errorf("bucket uri %q has no bucket", raw)
		}
		return BucketURI{Scheme: scheme, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	default:
		return BucketURI{}, fmt.Errorf("unsupported bucket scheme %q", scheme)
	}
}

// Client lists and downloads objects of one bucket. Listing always starts at
// the bucket root; the URI prefix is informational only.
type Client interface {
	List(ctx context.Context, uri BucketURI) ([]models.ObjectInfo, error)
	Download(ctx context.Context, uri BucketURI, key, localPath string) (int64, error)
}
