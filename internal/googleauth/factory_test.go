package googleauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRequesterFactoryBuildsOnce(t *testing.T) {
	store := NewTokenStore(nil, nil, time.Minute, nil, nil)
	defer store.Close()

	factory := NewRequesterFactory(Config{ClientID: "client-id"}, readyLoader(), store, nil)
	builds := 0
	factory.build = func(Config, *DiscoveryDocument, *TokenStore, *zap.Logger) TokenRequester {
		builds++
		return &fakeRequester{}
	}

	first, err := factory.Requester(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := factory.Requester(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same requester instance")
	}
	if builds != 1 {
		t.Fatalf("expected a single build, got %d", builds)
	}
}

func TestRequesterFactoryRequiresClientID(t *testing.T) {
	store := NewTokenStore(nil, nil, time.Minute, nil, nil)
	defer store.Close()

	factory := NewRequesterFactory(Config{}, readyLoader(), store, nil)
	if _, err := factory.Requester(context.Background()); !errors.Is(err, ErrMissingClientID) {
		t.Fatalf("expected missing client ID, got %v", err)
	}
}

func TestRequesterFactoryRejectsIncompleteDiscovery(t *testing.T) {
	store := NewTokenStore(nil, nil, time.Minute, nil, nil)
	defer store.Close()

	loader := &DiscoveryLoader{document: &DiscoveryDocument{}}
	factory := NewRequesterFactory(Config{ClientID: "client-id"}, loader, store, nil)
	if _, err := factory.Requester(context.Background()); !errors.Is(err, ErrDiscoveryUnavailable) {
		t.Fatalf("expected discovery unavailable, got %v", err)
	}
}
