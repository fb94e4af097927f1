package stores

import (
	"fmt"
	"strings"
)

// NewStore creates a new blob store based on the configuration
func NewStore(config *StoreConfig) (BlobStore, error) {
	if config == nil {
		return nil, fmt.Errorf("store config is nil")
	}
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(config.Connection)
	case "sqlite":
		return NewSQLiteStore(config)
	case "postgres":
		return NewPostgresStore(config)
	case "s3":
		return NewS3Store(S3ConfigFrom(config))
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// DefaultSQLitePath is used when a sqlite store is configured without a path.
const DefaultSQLitePath = "taxassist.sqlite"

// PostgresDSN builds a PostgreSQL connection string from its parts.
func PostgresDSN(host, user, password, dbname string, port int) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
}

// validateKey rejects keys that cannot be stored portably.
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	return nil
}
