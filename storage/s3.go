// storage/s3.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/config"
	"github.com/gewnthar/playsync/models"
)

// s3API is the part of the S3 SDK client the object store uses.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Client reads s3:// buckets, and gs:// buckets through the GCS XML
// interoperability endpoint when HMAC keys are configured.
type S3Client struct {
	s3              s3API
	gcs             s3API
	downloadTimeout time.Duration
	logger          *zap.Logger
}

// NewS3Client builds the SDK clients from the storage configuration.
func NewS3Client(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := &S3Client{
		s3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.UsePathStyle
		}),
		downloadTimeout: cfg.DownloadTimeout,
		logger:          logger.With(zap.String("component", "s3_client")),
	}

	if cfg.GCSAccessKeyID != "" && cfg.GCSSecretAccessKey != "" {
		gcsCfg := awsCfg.Copy()
		gcsCfg.Region = "auto"
		gcsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.GCSAccessKeyID, cfg.GCSSecretAccessKey, "")
		client.gcs = s3.NewFromConfig(gcsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.GCSEndpoint)
			o.UsePathStyle = true
		})
	}
	return client, nil
}

func (c *S3Client) api(uri BucketURI) (s3API, error) {
	switch uri.Scheme {
	case SchemeS3:
		return c.s3, nil
	case SchemeGCS:
		if c.gcs == nil {
			return nil, fmt.Errorf("gs:// bucket %s needs GCS HMAC keys", uri.Bucket)
		}
		return c.gcs, nil
	default:
		return nil, fmt.Errorf("scheme %q is not served by the S3 client", uri.Scheme)
	}
}

// List pages through every object from the bucket root. Directory markers
// are skipped.
func (c *S3Client) List(ctx context.Context, uri BucketURI) ([]models.ObjectInfo, error) {
	api, err := c.api(uri)
	if err != nil {
		return nil, &BucketAccessError{URI: uri.String(), Err: err}
	}

	var objects []models.ObjectInfo
	p := s3.NewListObjectsV2Paginator(api, &s3.ListObjectsV2Input{Bucket: aws.String(uri.Bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, &BucketAccessError{URI: uri.String(), Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, models.ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	c.logger.Debug("listed bucket", zap.String("bucket", uri.String()), zap.Int("objects", len(objects)))
	return objects, nil
}

// Download streams one object to localPath.
func (c *S3Client) Download(ctx context.Context, uri BucketURI, key, localPath string) (int64, error) {
	api, err := c.api(uri)
	if err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	if c.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.downloadTimeout)
		defer cancel()
	}

	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(uri.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	defer out.Body.Close()

	n, err := copyToFile(localPath, out.Body)
	if err != nil {
		return n, &DownloadError{Key: key, Err: err}
	}
	return n, nil
}
