package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no blob is stored under the key.
var ErrNotFound = errors.New("blob not found")

// BlobInfo describes a stored blob without its contents.
type BlobInfo struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// BlobStore holds opaque blobs under string keys. Put replaces any previous
// value in full; there are no partial updates.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the blobs whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	Close() error
}

// StoreConfig holds configuration for blob stores
type StoreConfig struct {
	Type       string            `json:"type" toml:"type"`             // "memory", "file", "sqlite", "postgres", "s3"
	Connection string            `json:"connection" toml:"connection"` // directory, file path or DSN
	Options    map[string]string `json:"options" toml:"options"`       // additional options
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}

// Option returns the named option or def when unset.
func (c *StoreConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}
