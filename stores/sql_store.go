package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Blob is one stored value in the SQL-backed stores.
type Blob struct {
	Key       string `gorm:"column:blob_key;primaryKey;size:512"`
	Data      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// sqlStore holds the gorm logic shared by the SQLite and PostgreSQL stores.
type sqlStore struct {
	db *gorm.DB
}

func openSQL(dialector gorm.Dialector) (*sqlStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if data == nil {
		data = []byte{}
	}
	blob := Blob{Key: key, Data: data}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&blob).Error
	if err != nil {
		return fmt.Errorf("failed to save blob: %w", err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	var blob Blob
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob: %w", err)
	}
	return blob.Data, nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if err := s.db.WithContext(ctx).Where("blob_key = ?", key).Delete(&Blob{}).Error; err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	type row struct {
		Key       string `gorm:"column:blob_key"`
		Size      int64
		UpdatedAt time.Time
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&Blob{}).
		Select("blob_key, length(data) AS size, updated_at").
		Where("blob_key LIKE ?", likePrefix(prefix)).
		Order("blob_key").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	out := make([]BlobInfo, 0, len(rows))
	for _, r := range rows {
		// LIKE may match more than the literal prefix
		if !strings.HasPrefix(r.Key, prefix) {
			continue
		}
		out = append(out, BlobInfo{Key: r.Key, Size: r.Size, ModTime: r.UpdatedAt})
	}
	return out, nil
}

// Ping checks if the database connection is alive
func (s *sqlStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func likePrefix(prefix string) string {
	prefix = strings.NewReplacer("%", "_", "\\", "_").Replace(prefix)
	return prefix + "%"
}
