package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Store persists the session through a Storage medium and mirrors it in memory
// for synchronous reads.
type Store struct {
	storage Storage
	logger  *zap.Logger

	mutex   sync.RWMutex
	current Session
}

// NewStore binds a Store to storage.
func NewStore(storage Storage, logger *zap.Logger) *Store {
	if storage == nil {
		panic("session storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{storage: storage, logger: logger}
}

// Hydrate reads the persisted session into the mirror. A profile that cannot be
// decoded is discarded while the tokens are kept; a lone token is treated as
// corruption and the whole session is cleared.
func (store *Store) Hydrate(ctx context.Context) (Session, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	accessToken, err := store.readToken(ctx, AccessTokenKey)
	if err != nil {
		return store.discardUnreadableLocked(ctx, err)
	}
	refreshToken, err := store.readToken(ctx, RefreshTokenKey)
	if err != nil {
		return store.discardUnreadableLocked(ctx, err)
	}

	if (accessToken == "") != (refreshToken == "") {
		store.logger.Warn("partial token pair discarded",
			zap.String("code", "session.hydrate.partial_token_pair"))
		store.current = Session{}
		return Session{}, store.deleteAllLocked(ctx)
	}

	rawProfile, profileFound, err := store.storage.Get(ctx, ProfileKey)
	if err != nil {
		return store.discardUnreadableLocked(ctx, fmt.Errorf("session.hydrate.%s: %w", ProfileKey, err))
	}

	if accessToken == "" {
		if profileFound {
			store.logger.Debug("orphan profile discarded",
				zap.String("code", "session.hydrate.orphan_profile"))
			if deleteErr := store.storage.Delete(ctx, ProfileKey); deleteErr != nil {
				return Session{}, fmt.Errorf("session.hydrate.%s: %w", ProfileKey, deleteErr)
			}
		}
		store.current = Session{}
		return Session{}, nil
	}

	hydrated := Session{AccessToken: accessToken, RefreshToken: refreshToken}
	if profileFound {
		profile, decodeErr := decodeProfile(rawProfile)
		if decodeErr != nil {
			store.logger.Warn("cached profile discarded",
				zap.String("code", "session.hydrate.malformed_profile"),
				zap.Error(decodeErr))
			if deleteErr := store.storage.Delete(ctx, ProfileKey); deleteErr != nil {
				store.logger.Warn("cached profile delete failed",
					zap.String("code", "session.hydrate.malformed_profile_delete"),
					zap.Error(deleteErr))
			}
		} else {
			hydrated.Profile = profile
		}
	}
	store.current = hydrated
	return hydrated.clone(), nil
}

// Persist writes the fields set in update. Fields left unchanged keep their
// persisted value; cleared fields are removed. When a write fails, the entries
// already written are restored so the medium never holds a mismatched pair.
func (store *Store) Persist(ctx context.Context, update Update) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	next := Session{
		AccessToken:  applyString(store.current.AccessToken, update.AccessToken),
		RefreshToken: applyString(store.current.RefreshToken, update.RefreshToken),
		Profile:      applyProfile(store.current.Profile, update.Profile),
	}
	if (next.AccessToken == "") != (next.RefreshToken == "") {
		return fmt.Errorf("session.persist: %w", ErrPartialTokenPair)
	}

	var writes []entryWrite
	if update.AccessToken.IsSet() {
		writes = append(writes, entryWrite{key: AccessTokenKey, next: next.AccessToken, previous: store.current.AccessToken})
	}
	if update.RefreshToken.IsSet() {
		writes = append(writes, entryWrite{key: RefreshTokenKey, next: next.RefreshToken, previous: store.current.RefreshToken})
	}
	if update.Profile.IsSet() {
		encodedNext, err := encodeOptionalProfile(next.Profile)
		if err != nil {
			return err
		}
		encodedPrevious, err := encodeOptionalProfile(store.current.Profile)
		if err != nil {
			return err
		}
		writes = append(writes, entryWrite{key: ProfileKey, next: encodedNext, previous: encodedPrevious})
	}

	for index, write := range writes {
		if err := store.writeString(ctx, write.key, write.next); err != nil {
			store.rollbackLocked(ctx, writes[:index])
			return err
		}
	}
	store.current = next
	return nil
}

type entryWrite struct {
	key      string
	next     string
	previous string
}

// rollbackLocked restores written entries in reverse order. Failures are logged;
// the next Hydrate discards a lone token.
func (store *Store) rollbackLocked(ctx context.Context, written []entryWrite) {
	for index := len(written) - 1; index >= 0; index-- {
		if err := store.writeString(ctx, written[index].key, written[index].previous); err != nil {
			store.logger.Error("session rollback failed",
				zap.String("code", "session.persist.rollback_failed"),
				zap.String("key", written[index].key),
				zap.Error(err))
		}
	}
}

// Clear removes every persisted entry. The mirror is reset even when the medium
// reports an error.
func (store *Store) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.current = Session{}
	return store.deleteAllLocked(ctx)
}

// IsAuthenticated reports whether an access token is held.
func (store *Store) IsAuthenticated() bool {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.current.IsAuthenticated()
}

// Snapshot returns a copy of the mirrored session.
func (store *Store) Snapshot() Session {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.current.clone()
}

// discardUnreadableLocked recovers from a medium whose contents cannot be
// decoded by starting signed out with every key removed. Other read failures are
// returned unchanged.
func (store *Store) discardUnreadableLocked(ctx context.Context, readErr error) (Session, error) {
	store.current = Session{}
	if !errors.Is(readErr, ErrMalformedCache) {
		return Session{}, readErr
	}
	store.logger.Warn("unreadable session storage discarded",
		zap.String("code", "session.hydrate.malformed_storage"),
		zap.Error(readErr))
	return Session{}, store.deleteAllLocked(ctx)
}

func (store *Store) readToken(ctx context.Context, key string) (string, error) {
	value, found, err := store.storage.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("session.hydrate.%s: %w", key, err)
	}
	if !found {
		return "", nil
	}
	return strings.TrimSpace(value), nil
}

func (store *Store) writeString(ctx context.Context, key string, value string) error {
	if value == "" {
		if err := store.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("session.persist.%s: %w", key, err)
		}
		return nil
	}
	if err := store.storage.Set(ctx, key, value); err != nil {
		return fmt.Errorf("session.persist.%s: %w", key, err)
	}
	return nil
}

func encodeOptionalProfile(profile *Profile) (string, error) {
	if profile == nil {
		return "", nil
	}
	return encodeProfile(profile)
}

func (store *Store) deleteAllLocked(ctx context.Context) error {
	var failures []error
	for _, key := range []string{AccessTokenKey, RefreshTokenKey, ProfileKey} {
		if err := store.storage.Delete(ctx, key); err != nil {
			failures = append(failures, fmt.Errorf("session.clear.%s: %w", key, err))
		}
	}
	return errors.Join(failures...)
}
