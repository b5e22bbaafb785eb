// storage/local.go
package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gewnthar/playsync/models"
)

// LocalClient serves file:// buckets from a directory tree. Relative bucket
// paths resolve under root.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) *LocalClient {
	return &LocalClient{root: root}
}

func (c *LocalClient) dir(uri BucketURI) string {
	if filepath.IsAbs(uri.Bucket) || c.root == "" {
		return filepath.Clean(uri.Bucket)
	}
	return filepath.Join(c.root, uri.Bucket)
}

func (c *LocalClient) List(ctx context.Context, uri BucketURI) ([]models.ObjectInfo, error) {
	base := c.dir(uri)
	var objects []models.ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		objects = append(objects, models.ObjectInfo{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, &BucketAccessError{URI: uri.String(), Err: err}
	}
	return objects, nil
}

func (c *LocalClient) Download(ctx context.Context, uri BucketURI, key, localPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	src, err := os.Open(filepath.Join(c.dir(uri), filepath.FromSlash(key)))
	if err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	defer src.Close()

	n, err := copyToFile(localPath, src)
	if err != nil {
		return n, &DownloadError{Key: key, Err: err}
	}
	return n, nil
}

func copyToFile(localPath string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}
