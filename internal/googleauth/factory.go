package googleauth

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RequesterFactory builds exactly one TokenRequester bound to the configured
// (client ID, scopes) pair, lazily, reused for the process lifetime.
type RequesterFactory struct {
	configuration Config
	loader        *DiscoveryLoader
	store         *TokenStore
	logger        *zap.Logger

	mutex     sync.Mutex
	requester TokenRequester

	// build is overridable in tests.
	build func(configuration Config, document *DiscoveryDocument, store *TokenStore, logger *zap.Logger) TokenRequester
}

// NewRequesterFactory constructs the factory. Construction never fails;
// configuration problems surface on first use so a runtime config change can
// be retried.
func NewRequesterFactory(configuration Config, loader *DiscoveryLoader, store *TokenStore, logger *zap.Logger) *RequesterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequesterFactory{
		configuration: configuration.withDefaults(),
		loader:        loader,
		store:         store,
		logger:        logger,
		build: func(configuration Config, document *DiscoveryDocument, store *TokenStore, logger *zap.Logger) TokenRequester {
			return newOAuthRequester(configuration, document, store, logger)
		},
	}
}

// Requester returns the singleton requester, building it on first use.
func (factory *RequesterFactory) Requester(ctx context.Context) (TokenRequester, error) {
	factory.mutex.Lock()
	defer factory.mutex.Unlock()
	if factory.requester != nil {
		return factory.requester, nil
	}
	if factory.configuration.ClientID == "" {
		return nil, ErrMissingClientID
	}

	document, readyErr := factory.loader.WaitReady(ctx, factory.configuration.DiscoveryTimeout)
	if readyErr != nil {
		return nil, readyErr
	}
	if document.TokenEndpoint == "" {
		return nil, ErrDiscoveryUnavailable
	}

	factory.requester = factory.build(factory.configuration, document, factory.store, factory.logger)
	return factory.requester, nil
}

// WarmUp eagerly builds the requester so the interactive path pays no
// discovery latency when the user clicks connect.
func (factory *RequesterFactory) WarmUp(ctx context.Context) error {
	_, buildErr := factory.Requester(ctx)
	return buildErr
}
