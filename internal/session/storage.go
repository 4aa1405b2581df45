package session

import (
	"context"
	"sync"
)

// Storage is the durable key-value medium behind the Store. Delete must be
// idempotent.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage keeps entries in process memory; intended for tests and dev.
type MemoryStorage struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryStorage constructs an empty in-memory medium.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

// Get returns the stored value for key.
func (storage *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	value, ok := storage.entries[key]
	return value, ok, nil
}

// Set stores value under key.
func (storage *MemoryStorage) Set(ctx context.Context, key string, value string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.entries[key] = value
	return nil
}

// Delete removes key.
func (storage *MemoryStorage) Delete(ctx context.Context, key string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	delete(storage.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (storage *MemoryStorage) Len() int {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	return len(storage.entries)
}
