package mockauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/frontdesk/pkg/accesstoken"
)

// MemoryRefreshTokenStore keeps refresh tokens in process memory. Tokens die
// with the process, which suits tests and local development.
type MemoryRefreshTokenStore struct {
	mutex      sync.Mutex
	tokens     map[string]*issuedRefreshToken
	tokenByKey map[string]string
	clock      accesstoken.Clock
}

type issuedRefreshToken struct {
	tokenID         string
	accountID       string
	opaqueHash      string
	expiresAt       time.Time
	issuedAt        time.Time
	revokedAt       time.Time
	previousTokenID string
}

// NewMemoryRefreshTokenStore creates an empty store.
func NewMemoryRefreshTokenStore(options ...StoreOption) *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		tokens:     make(map[string]*issuedRefreshToken),
		tokenByKey: make(map[string]string),
		clock:      resolveStoreSettings(options).clock,
	}
}

// Issue stores a new token for accountID. previousTokenID links a rotated token
// to the one it replaces.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, accountID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	opaque, opaqueHash, err := generateRefreshOpaque()
	if err != nil {
		return "", "", fmt.Errorf("mockauth.refresh_token.issue.memory: %w", err)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	token := &issuedRefreshToken{
		tokenID:         newRefreshTokenID(),
		accountID:       accountID,
		opaqueHash:      opaqueHash,
		expiresAt:       time.Unix(expiresUnix, 0),
		issuedAt:        store.clock.Now(),
		previousTokenID: previousTokenID,
	}
	store.tokens[token.tokenID] = token
	store.tokenByKey[opaqueHash] = token.tokenID
	return token.tokenID, opaque, nil
}

// Validate resolves an opaque token to its account, id and expiry.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fmt.Errorf("mockauth.refresh_token.validate.memory: %w", ErrRefreshTokenEmptyOpaque)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	token := store.tokens[store.tokenByKey[hashOpaque(tokenOpaque)]]
	switch {
	case token == nil:
		return "", "", 0, fmt.Errorf("mockauth.refresh_token.validate.memory: %w", ErrRefreshTokenNotFound)
	case !token.revokedAt.IsZero():
		return "", "", 0, fmt.Errorf("mockauth.refresh_token.validate.memory: %w", ErrRefreshTokenRevoked)
	case token.expiresAt.Before(store.clock.Now()):
		return "", "", 0, fmt.Errorf("mockauth.refresh_token.validate.memory: %w", ErrRefreshTokenExpired)
	}
	return token.accountID, token.tokenID, token.expiresAt.Unix(), nil
}

// Revoke marks a token unusable. Revoking twice reports ErrRefreshTokenAlreadyRevoked.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	token := store.tokens[tokenID]
	if token == nil {
		return fmt.Errorf("mockauth.refresh_token.revoke.memory: %w", ErrRefreshTokenNotFound)
	}
	if !token.revokedAt.IsZero() {
		return fmt.Errorf("mockauth.refresh_token.revoke.memory: %w", ErrRefreshTokenAlreadyRevoked)
	}
	token.revokedAt = store.clock.Now()
	return nil
}
