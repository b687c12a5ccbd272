package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mprlab/meeagent/internal/googleauth"
)

// MemoryStore is an in-memory Store intended for tests and dev runs without
// a configured database URL.
type MemoryStore struct {
	mutex     sync.Mutex
	authToken *googleauth.PersistedToken
	settings  map[string]string
	activity  []ActivityEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]string),
	}
}

// SaveAuthToken replaces the mirrored token.
func (store *MemoryStore) SaveAuthToken(ctx context.Context, record googleauth.PersistedToken) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	clone := record
	store.authToken = &clone
	return nil
}

// LoadAuthToken returns the mirrored token.
func (store *MemoryStore) LoadAuthToken(ctx context.Context) (googleauth.PersistedToken, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.authToken == nil {
		return googleauth.PersistedToken{}, ErrAuthTokenNotFound
	}
	return *store.authToken, nil
}

// ClearAuthToken removes the mirrored token.
func (store *MemoryStore) ClearAuthToken(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.authToken = nil
	return nil
}

// SaveSetting stores a settings key.
func (store *MemoryStore) SaveSetting(ctx context.Context, key string, value string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.settings[key] = value
	return nil
}

// LoadSetting reads a settings key.
func (store *MemoryStore) LoadSetting(ctx context.Context, key string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.settings[key]
	if !ok {
		return "", ErrSettingNotFound
	}
	return value, nil
}

// AppendActivity prepends an entry, trimming to ActivityLimit.
func (store *MemoryStore) AppendActivity(ctx context.Context, title string, at time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := ActivityEntry{
		ID:    uuid.NewString(),
		Title: title,
		At:    at.UTC(),
	}
	store.activity = append([]ActivityEntry{entry}, store.activity...)
	if len(store.activity) > ActivityLimit {
		store.activity = store.activity[:ActivityLimit]
	}
	return nil
}

// RecentActivity lists retained entries newest first.
func (store *MemoryStore) RecentActivity(ctx context.Context) ([]ActivityEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entries := make([]ActivityEntry, len(store.activity))
	copy(entries, store.activity)
	return entries, nil
}
