// Package storage defines object storage adapters declared under
// adapter.storage. Objects are addressed by bucket and object name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/configbinder"
)

// ErrObjectNotFound is returned by Download for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// Config holds configuration for a single storage connection.
type Config struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for gcs. Empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Root directory for local storage.
}

// Adapter is an object storage connection.
type Adapter interface {
	// Upload stores data under bucket/objectName, replacing any existing object.
	// Readers never observe a partially written object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens an object. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	Close() error
	Type() string
	Name() string
	// Bucket returns the configured default bucket.
	Bucket() string
}

// Factory creates an Adapter from its configuration.
type Factory func(ctx context.Context, cfg Config, name string) (Adapter, error)

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// RegisterFactory registers the Factory of a storage type.
func RegisterFactory(storageType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[storageType] = f
}

// Resolve decodes the adapter.storage entry called name.
func Resolve(sections map[string]interface{}, name string) (Config, error) {
	var cfg Config
	raw, ok := sections[name]
	if !ok {
		return cfg, fmt.Errorf("storage configuration '%s' not found in adapter.storage", name)
	}
	if err := configbinder.Bind(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return cfg, nil
}

// Open resolves the entry called name and creates its Adapter.
func Open(ctx context.Context, sections map[string]interface{}, name string) (Adapter, error) {
	cfg, err := Resolve(sections, name)
	if err != nil {
		return nil, err
	}
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage adapter registered for type '%s' (connection '%s')", cfg.Type, name)
	}
	return f(ctx, cfg, name)
}
