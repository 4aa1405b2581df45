package sessionpg

import (
	"context"
	"os"
	"testing"
)

func TestStorageRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("FRONTDESK_TEST_POSTGRES_URL")
	if databaseURL == "" {
		t.Skip("FRONTDESK_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	storage, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer storage.Close()

	key := "sessionpg-test-" + t.Name()
	defer func() { _ = storage.Delete(ctx, key) }()

	if err := storage.Set(ctx, key, "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := storage.Set(ctx, key, "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, found, err := storage.Get(ctx, key)
	if err != nil || !found || value != "second" {
		t.Fatalf("expected second, got %q found=%v err=%v", value, found, err)
	}
	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := storage.Get(ctx, key); found {
		t.Fatalf("expected key to be deleted")
	}
}
