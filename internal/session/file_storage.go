package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultSessionDirectory = ".frontdesk"
	defaultSessionFile      = "session.json"
)

var errEmptyFilePath = errors.New("session.file.empty_path")

// FileStorage persists entries as a JSON object in a single owner-only file.
type FileStorage struct {
	mutex sync.Mutex
	path  string
}

// NewFileStorage creates a FileStorage at path, creating the parent directory.
func NewFileStorage(path string) (*FileStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session.file.open: %w", errEmptyFilePath)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("session.file.mkdir: %w", err)
	}
	return &FileStorage{path: path}, nil
}

// DefaultFilePath returns ~/.frontdesk/session.json.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session.file.home: %w", err)
	}
	return filepath.Join(home, defaultSessionDirectory, defaultSessionFile), nil
}

// Path exposes the backing file location.
func (storage *FileStorage) Path() string {
	return storage.path
}

// Get returns the stored value for key.
func (storage *FileStorage) Get(ctx context.Context, key string) (string, bool, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	entries, err := storage.readLocked()
	if err != nil {
		return "", false, err
	}
	value, ok := entries[key]
	return value, ok, nil
}

// Set stores value under key.
func (storage *FileStorage) Set(ctx context.Context, key string, value string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	entries, err := storage.readForWriteLocked()
	if err != nil {
		return err
	}
	entries[key] = value
	return storage.writeLocked(entries)
}

// Delete removes key; the file itself is removed once empty. A file that cannot
// be decoded is removed as a whole.
func (storage *FileStorage) Delete(ctx context.Context, key string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	entries, err := storage.readLocked()
	if errors.Is(err, ErrMalformedCache) {
		return storage.removeLocked()
	}
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	if len(entries) == 0 {
		return storage.removeLocked()
	}
	return storage.writeLocked(entries)
}

// readForWriteLocked starts from an empty set of entries when the file cannot be
// decoded, so the next write replaces it.
func (storage *FileStorage) readForWriteLocked() (map[string]string, error) {
	entries, err := storage.readLocked()
	if errors.Is(err, ErrMalformedCache) {
		return make(map[string]string), nil
	}
	return entries, err
}

func (storage *FileStorage) removeLocked() error {
	if err := os.Remove(storage.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session.file.remove: %w", err)
	}
	return nil
}

func (storage *FileStorage) readLocked() (map[string]string, error) {
	data, err := os.ReadFile(storage.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("session.file.read: %w", err)
	}
	entries := make(map[string]string)
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("session.file.decode: %w: %v", ErrMalformedCache, err)
	}
	return entries, nil
}

func (storage *FileStorage) writeLocked(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("session.file.encode: %w", err)
	}
	temporaryPath := storage.path + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0o600); err != nil {
		return fmt.Errorf("session.file.write: %w", err)
	}
	if err := os.Rename(temporaryPath, storage.path); err != nil {
		return fmt.Errorf("session.file.rename: %w", err)
	}
	return nil
}
