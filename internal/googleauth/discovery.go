package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GoogleDiscoveryURL is the OpenID discovery document for Google accounts.
const GoogleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

const discoveryPollInterval = 50 * time.Millisecond

// DiscoveryDocument lists the identity endpoints token operations depend on.
type DiscoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// DiscoveryLoader fetches the discovery document at most once per process.
// A failed fetch is retryable on the next EnsureLoaded call; a fetch already
// in flight is never duplicated.
type DiscoveryLoader struct {
	documentURL string
	httpClient  *http.Client
	logger      *zap.Logger

	mutex    sync.Mutex
	loading  bool
	document *DiscoveryDocument
	loadErr  error
}

// NewDiscoveryLoader constructs a loader for the given discovery URL.
func NewDiscoveryLoader(documentURL string, httpClient *http.Client, logger *zap.Logger) *DiscoveryLoader {
	if documentURL == "" {
		documentURL = GoogleDiscoveryURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryLoader{
		documentURL: documentURL,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// EnsureLoaded starts the one-shot background fetch when the document is
// neither loaded nor loading. Idempotent; the fetch itself is not cancellable.
func (loader *DiscoveryLoader) EnsureLoaded(ctx context.Context) {
	loader.mutex.Lock()
	defer loader.mutex.Unlock()
	if loader.document != nil || loader.loading {
		return
	}
	loader.loading = true
	loader.loadErr = nil
	go loader.fetch()
}

// Document returns the loaded document, or nil when not ready.
func (loader *DiscoveryLoader) Document() *DiscoveryDocument {
	loader.mutex.Lock()
	defer loader.mutex.Unlock()
	return loader.document
}

// WaitReady blocks until the document is available, the fetch fails, the
// timeout elapses, or the context is cancelled. Readiness is polled because a
// load started by an earlier caller exposes no completion event.
func (loader *DiscoveryLoader) WaitReady(ctx context.Context, timeout time.Duration) (*DiscoveryDocument, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	loader.EnsureLoaded(ctx)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()

	for {
		document, pending, fetchErr := loader.snapshot()
		if document != nil {
			return document, nil
		}
		if !pending && fetchErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryLoad, fetchErr)
		}
		if time.Now().After(deadline) {
			return nil, ErrDiscoveryTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (loader *DiscoveryLoader) snapshot() (*DiscoveryDocument, bool, error) {
	loader.mutex.Lock()
	defer loader.mutex.Unlock()
	return loader.document, loader.loading, loader.loadErr
}

func (loader *DiscoveryLoader) fetch() {
	response, requestErr := loader.httpClient.Get(loader.documentURL)
	if requestErr != nil {
		loader.finish(nil, requestErr)
		return
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		loader.finish(nil, fmt.Errorf("discovery status %d", response.StatusCode))
		return
	}

	var document DiscoveryDocument
	if decodeErr := json.NewDecoder(response.Body).Decode(&document); decodeErr != nil {
		loader.finish(nil, decodeErr)
		return
	}
	loader.finish(&document, nil)
}

func (loader *DiscoveryLoader) finish(document *DiscoveryDocument, fetchErr error) {
	loader.mutex.Lock()
	defer loader.mutex.Unlock()
	loader.loading = false
	loader.document = document
	loader.loadErr = fetchErr
	if fetchErr != nil {
		loader.logger.Warn("identity discovery fetch failed",
			zap.String("code", "googleauth.discovery.load_failed"),
			zap.Error(fetchErr))
	}
}
