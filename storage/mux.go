// storage/mux.go
package storage

import (
	"context"
	"fmt"

	"github.com/gewnthar/playsync/models"
)

// Mux dispatches to a Client by URI scheme.
type Mux struct {
	clients map[string]Client
}

func NewMux() *Mux {
	return &Mux{clients: make(map[string]Client)}
}

// Handle registers c for the given schemes.
func (m *Mux) Handle(c Client, schemes ...string) {
	for _, s := range schemes {
		m.clients[s] = c
	}
}

func (m *Mux) client(uri BucketURI) (Client, error) {
	c, ok := m.clients[uri.Scheme]
	if !ok {
		return nil, fmt.Errorf("no storage client for scheme %q", uri.Scheme)
	}
	return c, nil
}

func (m *Mux) List(ctx context.Context, uri BucketURI) ([]models.ObjectInfo, error) {
	c, err := m.client(uri)
	if err != nil {
		return nil, &BucketAccessError{URI: uri.String(), Err: err}
	}
	return c.List(ctx, uri)
}

func (m *Mux) Download(ctx context.Context, uri BucketURI, key, localPath string) (int64, error) {
	c, err := m.client(uri)
	if err != nil {
		return 0, &DownloadError{Key: key, Err: err}
	}
	return c.Download(ctx, uri, key, localPath)
}
