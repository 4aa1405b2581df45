package web

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNonceNotFound indicates the form nonce was never issued or was already used.
	ErrNonceNotFound = errors.New("web.nonce.not_found")
	// ErrNonceExpired indicates the form nonce outlived its TTL.
	ErrNonceExpired = errors.New("web.nonce.expired")
)

const nonceBytes = 32

// NonceStore issues single-use tokens embedded in the login form so a
// submission must come from a page this server rendered.
type NonceStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, token string) error
}

type memoryNonceStore struct {
	mutex   sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryNonceStore keeps nonces in memory for ttl.
func NewMemoryNonceStore(ttl time.Duration) NonceStore {
	return &memoryNonceStore{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (store *memoryNonceStore) Issue(ctx context.Context) (string, error) {
	buffer := make([]byte, nonceBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buffer)

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.sweepLocked()
	store.expires[token] = store.now().Add(store.ttl)
	return token, nil
}

func (store *memoryNonceStore) Consume(ctx context.Context, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	defer store.sweepLocked()

	expiry, issued := store.expires[token]
	if !issued {
		return ErrNonceNotFound
	}
	delete(store.expires, token)
	if store.now().After(expiry) {
		return ErrNonceExpired
	}
	return nil
}

func (store *memoryNonceStore) sweepLocked() {
	now := store.now()
	for token, expiry := range store.expires {
		if now.After(expiry) {
			delete(store.expires, token)
		}
	}
}
