// Package storage is the path-keyed blob interface over the object store that
// holds credentials, recordings, photos, voice metadata and profile documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Categories used under each user prefix.
const (
	CategoryVoice      = "voice"
	CategoryProfile    = "profile"
	CategoryRecordings = "recordings"
	CategoryPhotos     = "photos"
)

// BlobStore is the subset of object storage the relay needs.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Bucket   string
	Region   string
	Endpoint string
}

// NewStore creates an S3-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, cfg Config) (BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// Key builds "{userID}/{category}/{parts...}".
func Key(userID, category string, parts ...string) string {
	elems := append([]string{strings.Trim(userID, "/"), strings.Trim(category, "/")}, parts...)
	return path.Join(elems...)
}
