package mockauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
)

// Refresh token store failures. The login and refresh handlers collapse every
// one of them into a 401 invalid_refresh_token response.
var (
	ErrRefreshTokenNotFound       = errors.New("mockauth.refresh_token.not_found")
	ErrRefreshTokenRevoked        = errors.New("mockauth.refresh_token.revoked")
	ErrRefreshTokenExpired        = errors.New("mockauth.refresh_token.expired")
	ErrRefreshTokenAlreadyRevoked = errors.New("mockauth.refresh_token.already_revoked")
	ErrRefreshTokenEmptyOpaque    = errors.New("mockauth.refresh_token.empty")
)

const refreshOpaqueByteLength = 32

type storeSettings struct {
	clock accesstoken.Clock
}

// StoreOption customises a refresh token store.
type StoreOption func(*storeSettings)

// WithStoreClock replaces the wall clock used for issue, revoke and expiry.
func WithStoreClock(clock accesstoken.Clock) StoreOption {
	return func(settings *storeSettings) {
		if clock != nil {
			settings.clock = clock
		}
	}
}

func resolveStoreSettings(options []StoreOption) storeSettings {
	settings := storeSettings{clock: accesstoken.SystemClock()}
	for _, option := range options {
		option(&settings)
	}
	return settings
}

var refreshTokenRandomSource io.Reader = rand.Reader

func newRefreshTokenID() string {
	return uuid.NewString()
}

// generateRefreshOpaque returns the token handed to the client and the hash
// that is stored in its place.
func generateRefreshOpaque() (opaque string, opaqueHash string, err error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, readErr := io.ReadFull(refreshTokenRandomSource, randomBytes); readErr != nil {
		return "", "", fmt.Errorf("mockauth.refresh_token.random: %w", readErr)
	}
	opaque = base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	digest := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}
