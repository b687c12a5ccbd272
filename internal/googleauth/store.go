package googleauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistedToken is the durable mirror of the current Google grant.
type PersistedToken struct {
	AccessToken     string
	ExpiresAtUnixMS int64
	RefreshToken    string
	AccountEmail    string
}

// TokenPersistence mirrors the token of record to durable local storage.
// A load error means "no usable cached token", never a fatal condition.
type TokenPersistence interface {
	SaveAuthToken(ctx context.Context, record PersistedToken) error
	LoadAuthToken(ctx context.Context) (PersistedToken, error)
	ClearAuthToken(ctx context.Context) error
}

// TokenStore is the single source of truth for the current access token.
// Only the acquisition service mutates it; consumers read snapshots.
type TokenStore struct {
	persistence TokenPersistence
	clock       Clock
	logger      *zap.Logger
	buffer      time.Duration
	metrics     MetricsRecorder

	mutex        sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
	accountEmail string
	expiryTimer  *time.Timer
}

// NewTokenStore constructs a store with the configured freshness buffer.
func NewTokenStore(persistence TokenPersistence, clock Clock, buffer time.Duration, metrics MetricsRecorder, logger *zap.Logger) *TokenStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{
		persistence: persistence,
		clock:       clock,
		logger:      logger,
		buffer:      buffer,
		metrics:     metrics,
	}
}

// Restore loads the persisted token, keeping it only while still usable.
// Stale or unreadable rows are dropped silently: an absent cached token is
// normal, not exceptional.
func (store *TokenStore) Restore(ctx context.Context) bool {
	if store.persistence == nil {
		return false
	}
	record, loadErr := store.persistence.LoadAuthToken(ctx)
	if loadErr != nil {
		return false
	}

	store.mutex.Lock()
	// The long-lived consent survives even when the cached access token is
	// already stale; only the access token itself obeys the freshness check.
	store.refreshToken = record.RefreshToken
	store.accountEmail = record.AccountEmail
	store.mutex.Unlock()

	expiresAt := time.UnixMilli(record.ExpiresAtUnixMS).UTC()
	if record.AccessToken == "" || !store.clock.Now().Before(expiresAt.Add(-store.buffer)) {
		return false
	}

	store.mutex.Lock()
	store.accessToken = record.AccessToken
	store.expiresAt = expiresAt
	store.armExpiryTimerLocked()
	store.mutex.Unlock()

	store.logger.Info("restored persisted access token",
		zap.String("code", "googleauth.store.restored"),
		zap.Time("expires_at", expiresAt))
	return true
}

// Set installs a new token and mirrors it durably. An empty refresh token or
// account email in the new grant keeps the previously known value, since
// silent refreshes typically omit both.
func (store *TokenStore) Set(ctx context.Context, accessToken string, expiresAt time.Time, refreshToken string, accountEmail string) {
	store.mutex.Lock()
	store.accessToken = accessToken
	store.expiresAt = expiresAt
	if refreshToken != "" {
		store.refreshToken = refreshToken
	}
	if accountEmail != "" {
		store.accountEmail = accountEmail
	}
	record := PersistedToken{
		AccessToken:     accessToken,
		ExpiresAtUnixMS: expiresAt.UnixMilli(),
		RefreshToken:    store.refreshToken,
		AccountEmail:    store.accountEmail,
	}
	store.armExpiryTimerLocked()
	store.mutex.Unlock()

	if store.persistence != nil {
		if saveErr := store.persistence.SaveAuthToken(ctx, record); saveErr != nil {
			store.logger.Warn("token persistence failed",
				zap.String("code", "googleauth.store.persist_failed"),
				zap.Error(saveErr))
		}
	}
}

// Clear drops the token and removes the durable row entirely.
func (store *TokenStore) Clear(ctx context.Context) {
	store.mutex.Lock()
	store.accessToken = ""
	store.expiresAt = time.Time{}
	store.refreshToken = ""
	store.accountEmail = ""
	store.stopExpiryTimerLocked()
	store.mutex.Unlock()

	if store.persistence != nil {
		if clearErr := store.persistence.ClearAuthToken(ctx); clearErr != nil {
			store.logger.Warn("token row removal failed",
				zap.String("code", "googleauth.store.clear_failed"),
				zap.Error(clearErr))
		}
	}
}

// Current returns the access token when it passes the freshness invariant.
func (store *TokenStore) Current() (string, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.accessToken == "" {
		return "", false
	}
	if !store.clock.Now().Before(store.expiresAt.Add(-store.buffer)) {
		return "", false
	}
	return store.accessToken, true
}

// RefreshToken returns the stored long-lived consent, if any.
func (store *TokenStore) RefreshToken() string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.refreshToken
}

// AccountEmail returns the verified email of the connected account, if known.
func (store *TokenStore) AccountEmail() string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.accountEmail
}

// Close cancels the proactive expiry timer.
func (store *TokenStore) Close() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.stopExpiryTimerLocked()
}

// armExpiryTimerLocked schedules the proactive drop at expiresAt - buffer so
// observers never keep reporting a connected state past practical usability.
// The closure captures the token value: a request finishing after the timer
// fires installs a fresher token that must survive.
func (store *TokenStore) armExpiryTimerLocked() {
	store.stopExpiryTimerLocked()
	if store.accessToken == "" {
		return
	}
	staleToken := store.accessToken
	until := store.expiresAt.Add(-store.buffer).Sub(store.clock.Now())
	if until < 0 {
		until = 0
	}
	store.expiryTimer = time.AfterFunc(until, func() {
		store.dropIfStale(staleToken)
	})
}

func (store *TokenStore) stopExpiryTimerLocked() {
	if store.expiryTimer != nil {
		store.expiryTimer.Stop()
		store.expiryTimer = nil
	}
}

func (store *TokenStore) dropIfStale(staleToken string) {
	store.mutex.Lock()
	if store.accessToken != staleToken {
		store.mutex.Unlock()
		return
	}
	store.accessToken = ""
	store.expiresAt = time.Time{}
	store.expiryTimer = nil
	remainder := PersistedToken{
		RefreshToken: store.refreshToken,
		AccountEmail: store.accountEmail,
	}
	store.mutex.Unlock()

	if store.metrics != nil {
		store.metrics.Increment(MetricTokenExpiredDropped)
	}
	store.logger.Info("access token dropped before expiry",
		zap.String("code", "googleauth.store.expired_dropped"))

	if store.persistence == nil {
		return
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := store.persistence.SaveAuthToken(persistCtx, remainder); saveErr != nil {
		store.logger.Warn("token persistence failed",
			zap.String("code", "googleauth.store.persist_failed"),
			zap.Error(saveErr))
	}
}
