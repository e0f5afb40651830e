// Package storage abstracts where backup artifacts live. Two backends are
// provided: the local filesystem and S3-compatible object stores. Backends
// are stateless and safe for concurrent use; operations are idempotent with
// respect to repeated calls observing the same state.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend is the uniform capability set shared by all storage backends.
type Backend interface {
	// Upload copies a local file into the backend under name.
	Upload(ctx context.Context, localPath, name string) error
	// Download copies an object to a local path.
	Download(ctx context.Context, name, localPath string) error
	// List returns object names matching pattern (shell glob over the base
	// name; empty matches everything), sorted lexicographically.
	List(ctx context.Context, pattern string) ([]string, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// DeleteMany removes a set of objects, continuing past individual
	// failures and returning the combined error.
	DeleteMany(ctx context.Context, names []string) error
	// Exists reports whether an object is present.
	Exists(ctx context.Context, name string) (bool, error)
	// Size returns the object size in bytes.
	Size(ctx context.Context, name string) (int64, error)
	// ModTime returns the object's last modification time.
	ModTime(ctx context.Context, name string) (time.Time, error)
	// TotalBytes sums the size of every stored object.
	TotalBytes(ctx context.Context) (int64, error)
	// Location renders the canonical location string for an object,
	// recorded on the backup context after upload.
	Location(name string) string
}

// ErrNotFound is returned by Size, ModTime, and Download for missing objects.
var ErrNotFound = errors.New("storage: object not found")

// Kind names a backend implementation.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// Config selects and parameterizes a backend.
type Config struct {
	Type Kind   `yaml:"type"`
	Path string `yaml:"path"` // base directory for the local backend
	S3   S3Config
}

// S3Config holds S3-compatible object store settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // empty = AWS
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// New builds a backend from config.
func New(cfg Config) (Backend, error) {
	switch Kind(strings.ToLower(string(cfg.Type))) {
	case KindLocal, "":
		return NewLocal(cfg.Path)
	case KindS3:
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown backend type %q", cfg.Type)
	}
}
