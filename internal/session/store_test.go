package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

type failingStorage struct {
	*MemoryStorage
	deleteErr  error
	setErr     error
	setFailKey string
}

func (storage *failingStorage) Delete(ctx context.Context, key string) error {
	if storage.deleteErr != nil {
		return storage.deleteErr
	}
	return storage.MemoryStorage.Delete(ctx, key)
}

func (storage *failingStorage) Set(ctx context.Context, key string, value string) error {
	if storage.setErr != nil && (storage.setFailKey == "" || storage.setFailKey == key) {
		return storage.setErr
	}
	return storage.MemoryStorage.Set(ctx, key, value)
}

func seedStorage(t *testing.T, entries map[string]string) *MemoryStorage {
	t.Helper()
	storage := NewMemoryStorage()
	for key, value := range entries {
		if err := storage.Set(context.Background(), key, value); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	return storage
}

func TestHydrateRestoresFullSession(t *testing.T) {
	t.Parallel()

	storage := seedStorage(t, map[string]string{
		AccessTokenKey:  "a1",
		RefreshTokenKey: "r1",
		ProfileKey:      `{"id":1,"name":"Alice"}`,
	})
	store := NewStore(storage, zaptest.NewLogger(t))

	hydrated, err := store.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if hydrated.AccessToken != "a1" || hydrated.RefreshToken != "r1" {
		t.Fatalf("unexpected tokens: %+v", hydrated)
	}
	if hydrated.Profile == nil || hydrated.Profile.ID != "1" || hydrated.Profile.DisplayName != "Alice" {
		t.Fatalf("unexpected profile: %+v", hydrated.Profile)
	}
	if !store.IsAuthenticated() {
		t.Fatalf("expected authenticated store")
	}
}

func TestHydrateDiscardsMalformedProfileOnly(t *testing.T) {
	t.Parallel()

	storage := seedStorage(t, map[string]string{
		AccessTokenKey:  "a1",
		RefreshTokenKey: "r1",
		ProfileKey:      `{"id":`,
	})
	store := NewStore(storage, zaptest.NewLogger(t))

	hydrated, err := store.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !store.IsAuthenticated() {
		t.Fatalf("expected tokens to survive a malformed profile")
	}
	if hydrated.Profile != nil {
		t.Fatalf("expected profile to be discarded, got %+v", hydrated.Profile)
	}
	if _, found, _ := storage.Get(context.Background(), ProfileKey); found {
		t.Fatalf("expected malformed profile entry to be removed")
	}
	if value, _, _ := storage.Get(context.Background(), RefreshTokenKey); value != "r1" {
		t.Fatalf("expected refresh token to remain persisted, got %q", value)
	}
}

func TestHydrateClearsPartialTokenPair(t *testing.T) {
	t.Parallel()

	storage := seedStorage(t, map[string]string{
		AccessTokenKey: "a1",
		ProfileKey:     `{"id":"u1","name":"Alice"}`,
	})
	store := NewStore(storage, zaptest.NewLogger(t))

	hydrated, err := store.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !hydrated.IsEmpty() {
		t.Fatalf("expected empty session, got %+v", hydrated)
	}
	if store.IsAuthenticated() {
		t.Fatalf("partial token pair must not authenticate")
	}
	if storage.Len() != 0 {
		t.Fatalf("expected storage to be wiped, %d entries remain", storage.Len())
	}
}

func TestHydrateEmptyStorage(t *testing.T) {
	t.Parallel()

	store := NewStore(NewMemoryStorage(), zaptest.NewLogger(t))
	hydrated, err := store.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !hydrated.IsEmpty() || store.IsAuthenticated() {
		t.Fatalf("expected empty unauthenticated session")
	}
}

func TestPersistLeavesUnsetFieldsUntouched(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := NewStore(storage, zaptest.NewLogger(t))
	ctx := context.Background()

	err := store.Persist(ctx, UpdateFromSession(Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Profile:      &Profile{ID: "1", DisplayName: "Alice"},
	}))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := store.Persist(ctx, Update{AccessToken: Assign("a2")}); err != nil {
		t.Fatalf("persist access only: %v", err)
	}

	snapshot := store.Snapshot()
	if snapshot.AccessToken != "a2" || snapshot.RefreshToken != "r1" {
		t.Fatalf("unexpected tokens after partial update: %+v", snapshot)
	}
	if snapshot.Profile == nil || snapshot.Profile.DisplayName != "Alice" {
		t.Fatalf("expected profile to be untouched, got %+v", snapshot.Profile)
	}
	if raw, _, _ := storage.Get(ctx, ProfileKey); raw == "" {
		t.Fatalf("expected persisted profile")
	}

	if err := store.Persist(ctx, Update{Profile: Clear[*Profile]()}); err != nil {
		t.Fatalf("persist clear profile: %v", err)
	}
	if _, found, _ := storage.Get(ctx, ProfileKey); found {
		t.Fatalf("expected profile entry to be cleared")
	}
	if !store.IsAuthenticated() {
		t.Fatalf("clearing the profile must keep the session authenticated")
	}
}

func TestPersistRejectsPartialTokenPair(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	store := NewStore(storage, zaptest.NewLogger(t))

	err := store.Persist(context.Background(), Update{AccessToken: Assign("a1")})
	if !errors.Is(err, ErrPartialTokenPair) {
		t.Fatalf("expected ErrPartialTokenPair, got %v", err)
	}
	if storage.Len() != 0 {
		t.Fatalf("rejected update must not write, %d entries stored", storage.Len())
	}
	if store.IsAuthenticated() {
		t.Fatalf("rejected update must not authenticate")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	storage := seedStorage(t, map[string]string{
		AccessTokenKey:  "a1",
		RefreshTokenKey: "r1",
	})
	store := NewStore(storage, zaptest.NewLogger(t))
	if _, err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := store.Clear(context.Background()); err != nil {
			t.Fatalf("clear attempt %d: %v", attempt, err)
		}
	}
	if store.IsAuthenticated() || storage.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
}

func TestClearResetsMirrorWhenStorageFails(t *testing.T) {
	t.Parallel()

	storage := &failingStorage{MemoryStorage: seedStorage(t, map[string]string{
		AccessTokenKey:  "a1",
		RefreshTokenKey: "r1",
	})}
	store := NewStore(storage, zaptest.NewLogger(t))
	if _, err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	storage.deleteErr = errors.New("disk gone")
	if err := store.Clear(context.Background()); err == nil {
		t.Fatalf("expected storage error to be reported")
	}
	if store.IsAuthenticated() {
		t.Fatalf("mirror must be cleared even when storage fails")
	}
}

func TestPersistFailureKeepsMirror(t *testing.T) {
	t.Parallel()

	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), setErr: errors.New("read-only")}
	store := NewStore(storage, zaptest.NewLogger(t))

	err := store.Persist(context.Background(), UpdateFromSession(Session{AccessToken: "a1", RefreshToken: "r1"}))
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if store.IsAuthenticated() {
		t.Fatalf("failed persist must not update the mirror")
	}
}

func TestPersistRollsBackWrittenTokensOnFailure(t *testing.T) {
	t.Parallel()

	storage := &failingStorage{MemoryStorage: NewMemoryStorage()}
	store := NewStore(storage, zaptest.NewLogger(t))
	if err := store.Persist(context.Background(), UpdateFromSession(Session{AccessToken: "a1", RefreshToken: "r1"})); err != nil {
		t.Fatalf("initial persist: %v", err)
	}

	storage.setErr = errors.New("disk full")
	storage.setFailKey = RefreshTokenKey
	err := store.Persist(context.Background(), Update{
		AccessToken:  Assign("a2"),
		RefreshToken: Assign("r2"),
	})
	if err == nil {
		t.Fatalf("expected persist error")
	}

	for key, expected := range map[string]string{AccessTokenKey: "a1", RefreshTokenKey: "r1"} {
		value, found, getErr := storage.Get(context.Background(), key)
		if getErr != nil || !found || value != expected {
			t.Fatalf("expected %s=%q after rollback, got %q found=%v err=%v", key, expected, value, found, getErr)
		}
	}
	if snapshot := store.Snapshot(); snapshot.AccessToken != "a1" || snapshot.RefreshToken != "r1" {
		t.Fatalf("mirror must keep the previous pair, got %+v", snapshot)
	}
}

func TestPersistRollbackRemovesNewlyCreatedEntries(t *testing.T) {
	t.Parallel()

	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), setErr: errors.New("disk full"), setFailKey: ProfileKey}
	store := NewStore(storage, zaptest.NewLogger(t))

	err := store.Persist(context.Background(), UpdateFromSession(Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Profile:      &Profile{ID: "1"},
	}))
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if storage.Len() != 0 {
		t.Fatalf("expected no entries after rollback, found %d", storage.Len())
	}
}

func TestHydrateRecoversFromUnreadableFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	storage, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewStore(storage, zaptest.NewLogger(t))

	hydrated, err := store.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("expected unreadable file to be recovered, got %v", err)
	}
	if !hydrated.IsEmpty() {
		t.Fatalf("expected signed-out session, got %+v", hydrated)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected unreadable file to be removed, stat err=%v", statErr)
	}
	if err := store.Persist(context.Background(), UpdateFromSession(Session{AccessToken: "a1", RefreshToken: "r1"})); err != nil {
		t.Fatalf("persist after recovery: %v", err)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	store := NewStore(NewMemoryStorage(), zaptest.NewLogger(t))
	err := store.Persist(context.Background(), UpdateFromSession(Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Profile:      &Profile{ID: "1", Roles: []string{"admin"}},
	}))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	snapshot := store.Snapshot()
	snapshot.Profile.Roles[0] = "guest"
	if store.Snapshot().Profile.Roles[0] != "admin" {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}
