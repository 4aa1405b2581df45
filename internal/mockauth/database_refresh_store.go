package mockauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/frontdesk/internal/session"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errEmptyDatabaseURL = errors.New("mockauth.refresh_token.empty_database_url")

// DatabaseRefreshTokenStore keeps refresh tokens in SQLite or Postgres so the
// mock backend can be restarted without logging every client out.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
	clock       accesstoken.Clock
}

// issuedRefreshTokenRow is the persisted form of issuedRefreshToken. Only the
// hash of the opaque value is stored.
type issuedRefreshTokenRow struct {
	TokenID         string     `gorm:"column:token_id;primaryKey"`
	AccountID       string     `gorm:"column:account_id;index;not null"`
	OpaqueHash      string     `gorm:"column:opaque_hash;uniqueIndex;not null"`
	PreviousTokenID string     `gorm:"column:previous_token_id;index"`
	IssuedAt        time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt       time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt       *time.Time `gorm:"column:revoked_at"`
}

func (issuedRefreshTokenRow) TableName() string {
	return "mockauth_refresh_tokens"
}

// NewDatabaseRefreshTokenStore opens databaseURL and migrates the token table.
func NewDatabaseRefreshTokenStore(ctx context.Context, databaseURL string, options ...StoreOption) (*DatabaseRefreshTokenStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("mockauth.refresh_token.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := session.ResolveDialector(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("mockauth.refresh_token.open: %w", err)
	}
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("mockauth.refresh_token.open.%s: %w", driverLabel, err)
	}
	if err := gormDB.WithContext(ctx).AutoMigrate(&issuedRefreshTokenRow{}); err != nil {
		return nil, fmt.Errorf("mockauth.refresh_token.migrate.%s: %w", driverLabel, err)
	}
	return &DatabaseRefreshTokenStore{
		db:          gormDB,
		driverLabel: driverLabel,
		clock:       resolveStoreSettings(options).clock,
	}, nil
}

// Driver reports which database backs the store.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// Issue stores a new token for accountID, chained to previousTokenID when it
// replaces a rotated one.
func (store *DatabaseRefreshTokenStore) Issue(ctx context.Context, accountID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	opaque, opaqueHash, err := generateRefreshOpaque()
	if err != nil {
		return "", "", store.wrap("issue", err)
	}
	row := issuedRefreshTokenRow{
		TokenID:         newRefreshTokenID(),
		AccountID:       accountID,
		OpaqueHash:      opaqueHash,
		PreviousTokenID: previousTokenID,
		IssuedAt:        store.clock.Now().UTC(),
		ExpiresAt:       time.Unix(expiresUnix, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", "", store.wrap("issue", err)
	}
	return row.TokenID, opaque, nil
}

// Validate resolves an opaque token to its account, id and expiry.
func (store *DatabaseRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, store.wrap("validate", ErrRefreshTokenEmptyOpaque)
	}
	row, err := findRefreshTokenRow(store.db.WithContext(ctx), "opaque_hash = ?", hashOpaque(tokenOpaque))
	switch {
	case err != nil:
		return "", "", 0, store.wrap("validate", err)
	case row.RevokedAt != nil:
		return "", "", 0, store.wrap("validate", ErrRefreshTokenRevoked)
	case row.ExpiresAt.Before(store.clock.Now()):
		return "", "", 0, store.wrap("validate", ErrRefreshTokenExpired)
	}
	return row.AccountID, row.TokenID, row.ExpiresAt.Unix(), nil
}

// Revoke marks a token unusable. Revoking twice reports ErrRefreshTokenAlreadyRevoked.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findRefreshTokenRow(tx, "token_id = ?", tokenID)
		if err != nil {
			return store.wrap("revoke", err)
		}
		if row.RevokedAt != nil {
			return store.wrap("revoke", ErrRefreshTokenAlreadyRevoked)
		}
		revokedAt := store.clock.Now().UTC()
		if err := tx.Model(&issuedRefreshTokenRow{}).Where("token_id = ?", tokenID).Update("revoked_at", revokedAt).Error; err != nil {
			return store.wrap("revoke", err)
		}
		return nil
	})
}

func findRefreshTokenRow(db *gorm.DB, query string, value string) (issuedRefreshTokenRow, error) {
	var row issuedRefreshTokenRow
	err := db.Where(query, value).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrRefreshTokenNotFound
	}
	return row, err
}

func (store *DatabaseRefreshTokenStore) wrap(operation string, err error) error {
	return fmt.Errorf("mockauth.refresh_token.%s.%s: %w", operation, store.driverLabel, err)
}
