package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	errEmptyDatabaseURL    = errors.New("session.database.empty_url")
	errSQLiteEmptyPath     = errors.New("session.database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session.database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session.database.unsupported_no_scheme")
)

// DatabaseStorage persists session entries using GORM.
type DatabaseStorage struct {
	db          *gorm.DB
	driverLabel string
}

type sessionEntryRecord struct {
	Key         string `gorm:"column:entry_key;primaryKey"`
	Value       string `gorm:"column:entry_value;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (sessionEntryRecord) TableName() string {
	return "session_entries"
}

// NewDatabaseStorage opens the database named by databaseURL (sqlite:// or
// postgres://) and migrates the session table.
func NewDatabaseStorage(ctx context.Context, databaseURL string) (*DatabaseStorage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session.database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := ResolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session.database.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionEntryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session.database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStorage{db: gormDB, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (storage *DatabaseStorage) Driver() string {
	return storage.driverLabel
}

// Get returns the stored value for key.
func (storage *DatabaseStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var record sessionEntryRecord
	err := storage.db.WithContext(ctx).Where("entry_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("session.database.get.%s: %w", storage.driverLabel, err)
	}
	return record.Value, true, nil
}

// Set upserts value under key.
func (storage *DatabaseStorage) Set(ctx context.Context, key string, value string) error {
	record := sessionEntryRecord{
		Key:         key,
		Value:       value,
		UpdatedUnix: time.Now().UTC().Unix(),
	}
	err := storage.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("session.database.set.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// Delete removes key; missing keys are not an error.
func (storage *DatabaseStorage) Delete(ctx context.Context, key string) error {
	err := storage.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&sessionEntryRecord{}).Error
	if err != nil {
		return fmt.Errorf("session.database.delete.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// ResolveDialector maps a database URL onto a GORM dialector and driver label.
func ResolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session.database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session.database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session.database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session.database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedStorage)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
