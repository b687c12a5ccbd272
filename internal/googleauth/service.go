package googleauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuthState is the snapshot consumers render from.
type AuthState struct {
	Token        string `json:"token"`
	AccountEmail string `json:"account_email,omitempty"`
	Loading      bool   `json:"loading"`
	Error        string `json:"error,omitempty"`
}

// Service is the token acquisition state machine. One instance exists per
// process; independent instances would duplicate consent prompts and race
// the shared store. Only the Service mutates the TokenStore.
type Service struct {
	configuration Config
	factory       *RequesterFactory
	store         *TokenStore
	policy        AcquisitionPolicy
	clock         Clock
	logger        *zap.Logger
	metrics       MetricsRecorder

	stateMutex sync.Mutex
	inFlight   int
	lastError  string
}

// NewService wires the state machine. Nil policy defaults to
// SilentThenInteractive; nil clock to the system clock.
func NewService(configuration Config, factory *RequesterFactory, store *TokenStore, policy AcquisitionPolicy, clock Clock, metrics MetricsRecorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if policy == nil {
		policy = SilentThenInteractive{Logger: logger}
	}
	return &Service{
		configuration: configuration.withDefaults(),
		factory:       factory,
		store:         store,
		policy:        policy,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
	}
}

// Init restores the persisted token and warms up the requester. A warm-up
// failure is recorded as the current error but is not fatal: construction is
// retried lazily on the next explicit use.
func (service *Service) Init(ctx context.Context) {
	service.store.Restore(ctx)
	if warmErr := service.factory.WarmUp(ctx); warmErr != nil {
		service.logger.Warn("auth warm-up failed",
			zap.String("code", "googleauth.service.warmup_failed"),
			zap.Error(warmErr))
		service.setError(warmErr.Error())
	}
}

// Close releases the store's timer.
func (service *Service) Close() {
	service.store.Close()
}

// State returns the shared auth snapshot.
func (service *Service) State() AuthState {
	token, _ := service.store.Current()
	service.stateMutex.Lock()
	defer service.stateMutex.Unlock()
	return AuthState{
		Token:        token,
		AccountEmail: service.store.AccountEmail(),
		Loading:      service.inFlight > 0,
		Error:        service.lastError,
	}
}

// EnsureToken returns a fresh token without any request when possible,
// otherwise runs the silent-then-interactive policy.
func (service *Service) EnsureToken(ctx context.Context) (string, error) {
	if token, ok := service.store.Current(); ok {
		service.increment(MetricTokenFresh)
		return token, nil
	}
	return service.policy.Acquire(ctx, service.requestToken)
}

// GetTokenSilent returns a fresh token or attempts only the silent request;
// failure propagates so passive consumers can render "not connected" without
// triggering a consent prompt.
func (service *Service) GetTokenSilent(ctx context.Context) (string, error) {
	if token, ok := service.store.Current(); ok {
		service.increment(MetricTokenFresh)
		return token, nil
	}
	return service.requestToken(ctx, false)
}

// RequestTokenInteractive unconditionally opens the consent flow, bypassing
// the freshness check so a user can force re-consent.
func (service *Service) RequestTokenInteractive(ctx context.Context) (string, error) {
	return service.requestToken(ctx, true)
}

// Revoke clears local state immediately, then best-effort revokes
// server-side in the background. Remote failure is logged, never surfaced,
// and never re-adds the token. Idempotent.
func (service *Service) Revoke(ctx context.Context) {
	accessToken, _ := service.store.Current()
	service.store.Clear(ctx)
	service.setError("")
	service.increment(MetricTokenRevoked)

	if accessToken == "" {
		return
	}
	go func() {
		revokeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		requester, factoryErr := service.factory.Requester(revokeCtx)
		if factoryErr != nil {
			service.logger.Warn("revoke skipped, requester unavailable",
				zap.String("code", "googleauth.service.revoke_skipped"),
				zap.Error(factoryErr))
			return
		}
		if revokeErr := requester.RevokeToken(revokeCtx, accessToken); revokeErr != nil {
			service.logger.Warn("remote revoke failed",
				zap.String("code", "googleauth.service.revoke_failed"),
				zap.Error(revokeErr))
		}
	}()
}

// requestToken runs one request. Loading is set for the duration and cleared
// on every exit path; the error slot is cleared at the start and holds the
// failure reason afterwards.
func (service *Service) requestToken(ctx context.Context, interactive bool) (string, error) {
	service.beginRequest()
	defer service.endRequest()

	requester, factoryErr := service.factory.Requester(ctx)
	if factoryErr != nil {
		service.setError(factoryErr.Error())
		return "", factoryErr
	}

	grant, requestErr := requester.RequestToken(ctx, interactive)
	if requestErr != nil {
		service.setError(requestErr.Error())
		service.incrementOutcome(interactive, false)
		return "", requestErr
	}
	if grant.AccessToken == "" {
		service.setError(ErrEmptyAccessToken.Error())
		service.incrementOutcome(interactive, false)
		return "", ErrEmptyAccessToken
	}

	lifetime := grant.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultGrantLifetime
	}
	expiresAt := service.clock.Now().Add(lifetime)
	service.store.Set(ctx, grant.AccessToken, expiresAt, grant.RefreshToken, grant.AccountEmail)
	service.incrementOutcome(interactive, true)
	service.logger.Info("access token acquired",
		zap.String("code", "googleauth.service.token_acquired"),
		zap.Bool("interactive", interactive),
		zap.Time("expires_at", expiresAt))
	return grant.AccessToken, nil
}

func (service *Service) beginRequest() {
	service.stateMutex.Lock()
	defer service.stateMutex.Unlock()
	service.inFlight++
	service.lastError = ""
}

func (service *Service) endRequest() {
	service.stateMutex.Lock()
	defer service.stateMutex.Unlock()
	if service.inFlight > 0 {
		service.inFlight--
	}
}

func (service *Service) setError(message string) {
	service.stateMutex.Lock()
	defer service.stateMutex.Unlock()
	service.lastError = message
}

func (service *Service) increment(event string) {
	if service.metrics != nil {
		service.metrics.Increment(event)
	}
}

func (service *Service) incrementOutcome(interactive bool, ok bool) {
	switch {
	case interactive && ok:
		service.increment(MetricTokenPromptOK)
	case interactive:
		service.increment(MetricTokenPromptFailed)
	case ok:
		service.increment(MetricTokenSilentOK)
	default:
		service.increment(MetricTokenSilentFailed)
	}
}
