// storage/gcs.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gewnthar/playsync/config"
	"github.com/gewnthar/playsync/models"
)

// gcsAPI is the part of the Cloud Storage client the object store uses.
type gcsAPI interface {
	ListObjects(ctx context.Context, bucket string) ([]models.ObjectInfo, error)
	OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Close() error
}

type gcsSDK struct {
	client *gcs.Client
}

func (g gcsSDK) ListObjects(ctx context.Context, bucket string) ([]models.ObjectInfo, error) {
	var objects []models.ObjectInfo
	it := g.client.Bucket(bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, err
		}
		objects = append(objects, models.ObjectInfo{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}
}

func (g gcsSDK) OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return g.client.Bucket(bucket).Object(key).NewReader(ctx)
}

func (g gcsSDK) Close() error {
	return g.client.Close()
}

// GCSClient reads gs:// buckets with the native Cloud Storage API. It
// authenticates with a service-account key file when one is configured and
// with Application Default Credentials otherwise.
type GCSClient struct {
	api             gcsAPI
	downloadTimeout time.Duration
	logger          *zap.Logger
}

func NewGCSClient(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*GCSClient, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSClient{
		api:             gcsSDK{client: client},
		downloadTimeout: cfg.DownloadTimeout,
		logger:          logger.With(zap.String("component", "gcs_client")),
	}, nil
}

func (c *GCSClient) List(ctx context.Context, uri BucketURI) ([]models.ObjectInfo, error) {
	all, err := c.api.ListObjects(ctx, uri.Bucket)
	if err != nil {
		return nil, &BucketAccessError{URI: uri.String(), Err: err}
	}
	objects := all[:0]
	for _, obj := range all {
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, obj)
	}
	c.logger.Debug("listed bucket", zap.String("bucket", uri.String()), zap.Int("objects", len(objects)))
	return objects, nil
}

func (c *GCSClient) Download(ctx context.Context, uri BucketURI, key, localPath string) (int64, error) {
	if c.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.downloadTimeout)
		defer cancel()
	}
	r, err := c.api.OpenObject(ctx, uri.Bucket, key)
	if err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	defer r.Close()

	n, err := copyToFile(localPath, r)
	if err != nil {
		return n, &DownloadError{Key: key, Err: err}
	}
	return n, nil
}

func (c *GCSClient) Close() error {
	return c.api.Close()
}
