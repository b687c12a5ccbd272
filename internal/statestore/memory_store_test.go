package statestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mprlab/meeagent/internal/googleauth"
)

func TestMemoryStoreAuthTokenLifecycle(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.LoadAuthToken(context.Background()); !errors.Is(err, ErrAuthTokenNotFound) {
		t.Fatalf("expected not-found before save, got %v", err)
	}

	record := googleauth.PersistedToken{
		AccessToken:     "access-token",
		ExpiresAtUnixMS: 1700000000000,
		RefreshToken:    "long-lived",
	}
	if err := store.SaveAuthToken(context.Background(), record); err != nil {
		t.Fatalf("save error: %v", err)
	}
	loaded, err := store.LoadAuthToken(context.Background())
	if err != nil || loaded != record {
		t.Fatalf("expected %#v, got %#v err=%v", record, loaded, err)
	}

	if err := store.ClearAuthToken(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if _, err := store.LoadAuthToken(context.Background()); !errors.Is(err, ErrAuthTokenNotFound) {
		t.Fatalf("expected not-found after clear, got %v", err)
	}
}

func TestMemoryStoreSettings(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.LoadSetting(context.Background(), DensityKey); !errors.Is(err, ErrSettingNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if err := store.SaveSetting(context.Background(), DensityKey, "compact"); err != nil {
		t.Fatalf("save error: %v", err)
	}
	value, err := store.LoadSetting(context.Background(), DensityKey)
	if err != nil || value != "compact" {
		t.Fatalf("expected compact, got %q err=%v", value, err)
	}
}

func TestMemoryStoreActivityOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()

	for index := 0; index < ActivityLimit+2; index++ {
		title := fmt.Sprintf("event-%d", index)
		if err := store.AppendActivity(context.Background(), title, base.Add(time.Duration(index)*time.Minute)); err != nil {
			t.Fatalf("append error: %v", err)
		}
	}

	entries, err := store.RecentActivity(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != ActivityLimit {
		t.Fatalf("expected %d entries, got %d", ActivityLimit, len(entries))
	}
	if entries[0].Title != fmt.Sprintf("event-%d", ActivityLimit+1) {
		t.Fatalf("expected newest first, got %q", entries[0].Title)
	}
	for index, entry := range entries {
		if entry.ID == "" {
			t.Fatalf("entry %d missing id", index)
		}
	}
}
