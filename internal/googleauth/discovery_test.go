package googleauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDiscoveryLoaderLoadsOnce(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		hits.Add(1)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"authorization_endpoint":"https://a","token_endpoint":"https://t","revocation_endpoint":"https://r"}`))
	}))
	defer server.Close()

	loader := NewDiscoveryLoader(server.URL, server.Client(), nil)

	document, err := loader.WaitReady(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if document.TokenEndpoint != "https://t" {
		t.Fatalf("unexpected document: %#v", document)
	}

	if _, err := loader.WaitReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error on second wait: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
}

func TestDiscoveryLoaderRetriesAfterFailure(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if failing.Load() {
			writer.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = writer.Write([]byte(`{"token_endpoint":"https://t"}`))
	}))
	defer server.Close()

	loader := NewDiscoveryLoader(server.URL, server.Client(), nil)

	_, err := loader.WaitReady(context.Background(), 2*time.Second)
	if !errors.Is(err, ErrDiscoveryLoad) {
		t.Fatalf("expected load error, got %v", err)
	}

	failing.Store(false)
	document, retryErr := loader.WaitReady(context.Background(), 2*time.Second)
	if retryErr != nil {
		t.Fatalf("expected retry to succeed, got %v", retryErr)
	}
	if document.TokenEndpoint != "https://t" {
		t.Fatalf("unexpected document: %#v", document)
	}
}

func TestDiscoveryLoaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	loader := NewDiscoveryLoader(server.URL, server.Client(), nil)

	_, err := loader.WaitReady(context.Background(), 150*time.Millisecond)
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestDiscoveryLoaderContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	loader := NewDiscoveryLoader(server.URL, server.Client(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := loader.WaitReady(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
