package stores

import (
	"fmt"

	"gorm.io/driver/sqlite"
)

// SQLiteStore implements BlobStore for SQLite databases
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}
	if config.Connection == "" {
		config.Connection = DefaultSQLitePath
	}
	s, err := openSQL(sqlite.Open(config.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return &SQLiteStore{sqlStore: s, path: config.Connection}, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStore(NewStoreConfig("sqlite", dbPath))
}
