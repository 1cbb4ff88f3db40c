package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
)

// Entry is one stored key.
type Entry struct {
	Key       string `gorm:"column:kv_key;primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (Entry) TableName() string { return "kv_entries" }

// GormStore is a Store backed by a SQL database through gorm.
type GormStore struct {
	db      *gorm.DB
	dialect string
	log     logger.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string, log logger.Logger) (*GormStore, error) {
	if path == "" {
		return nil, errors.Newf("sqlite path is empty").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.New(err).
				Component(componentName).
				Category(errors.CategoryDatabase).
				Context("operation", "create_directory").
				Context("path", path).
				Build()
		}
	}
	return openGorm(sqlite.Open(path), "sqlite", log)
}

// OpenMySQL connects to MySQL using dsn.
func OpenMySQL(dsn string, log logger.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.Newf("mysql dsn is empty").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return openGorm(mysql.Open(dsn), "mysql", log)
}

func openGorm(dialector gorm.Dialector, dialect string, log logger.Logger) (*GormStore, error) {
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	log = log.With(logger.String("dialect", dialect))

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("dialect", dialect).
			Build()
	}

	if dialect == "sqlite" {
		// SQLite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open", "")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Context("dialect", dialect).
			Build()
	}

	log.Info("key-value store opened")
	return &GormStore{db: db, dialect: dialect, log: log}, nil
}

// Get returns the value stored under key.
func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rows []Entry
	result := s.db.WithContext(ctx).Where("kv_key = ?", key).Limit(1).Find(&rows)
	if result.Error != nil {
		return "", false, dbError(result.Error, "get", key)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

// Set upserts value under key.
func (s *GormStore) Set(ctx context.Context, key, value string) error {
	entry := Entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return dbError(err, "set", key)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return dbError(err, "delete", key)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}
