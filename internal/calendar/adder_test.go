package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mprlab/meeagent/internal/extract"
)

type fakeTokens struct {
	mutex       sync.Mutex
	ensured     int
	silent      int
	ensureToken string
	silentToken string
	silentErr   error
}

func (tokens *fakeTokens) EnsureToken(ctx context.Context) (string, error) {
	tokens.mutex.Lock()
	defer tokens.mutex.Unlock()
	tokens.ensured++
	return tokens.ensureToken, nil
}

func (tokens *fakeTokens) GetTokenSilent(ctx context.Context) (string, error) {
	tokens.mutex.Lock()
	defer tokens.mutex.Unlock()
	tokens.silent++
	if tokens.silentErr != nil {
		return "", tokens.silentErr
	}
	return tokens.silentToken, nil
}

type fakeActivity struct {
	mutex  sync.Mutex
	titles []string
	err    error
}

func (activity *fakeActivity) AppendActivity(ctx context.Context, title string, at time.Time) error {
	activity.mutex.Lock()
	defer activity.mutex.Unlock()
	if activity.err != nil {
		return activity.err
	}
	activity.titles = append(activity.titles, title)
	return nil
}

func standupEvent() extract.EventLite {
	return extract.EventLite{Title: "Standup", Start: "2024-08-30T09:00:00Z"}
}

func TestAdderRetriesExpiredTokenOnce(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if calls.Add(1) == 1 {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		if request.Header.Get("Authorization") != "Bearer fresh-token" {
			t.Errorf("expected refreshed token on retry, got %q", request.Header.Get("Authorization"))
		}
		_, _ = writer.Write([]byte(`{"ok":true,"id":"evt-1"}`))
	}))
	defer server.Close()

	tokens := &fakeTokens{ensureToken: "stale-token", silentToken: "fresh-token"}
	activity := &fakeActivity{}
	adder := NewAdder(NewClient(server.URL, server.Client(), time.Second, nil), tokens, activity, nil)

	result, err := adder.Add(context.Background(), standupEvent(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != "evt-1" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls.Load())
	}
	if tokens.silent != 1 {
		t.Fatalf("expected one silent refresh, got %d", tokens.silent)
	}
	if len(activity.titles) != 1 || activity.titles[0] != "Standup" {
		t.Fatalf("expected activity recorded, got %v", activity.titles)
	}
}

func TestAdderSecondExpirySurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{ensureToken: "stale-token", silentToken: "still-stale"}
	adder := NewAdder(NewClient(server.URL, server.Client(), time.Second, nil), tokens, nil, nil)

	_, err := adder.Add(context.Background(), standupEvent(), "")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected second expiry surfaced, got %v", err)
	}
	if tokens.silent != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", tokens.silent)
	}
}

func TestAdderSilentRefreshFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refreshErr := errors.New("consent_required")
	tokens := &fakeTokens{ensureToken: "stale-token", silentErr: refreshErr}
	adder := NewAdder(NewClient(server.URL, server.Client(), time.Second, nil), tokens, nil, nil)

	_, err := adder.Add(context.Background(), standupEvent(), "")
	if !errors.Is(err, refreshErr) {
		t.Fatalf("expected refresh failure surfaced, got %v", err)
	}
}

func TestAdderShapesBeforeRequestingToken(t *testing.T) {
	tokens := &fakeTokens{ensureToken: "token"}
	adder := NewAdder(NewClient("http://127.0.0.1:0", nil, time.Second, nil), tokens, nil, nil)

	_, err := adder.Add(context.Background(), extract.EventLite{Title: "No start"}, "")
	if !errors.Is(err, ErrMissingStart) {
		t.Fatalf("expected shaping error, got %v", err)
	}
	if tokens.ensured != 0 {
		t.Fatalf("expected no token request for unshapeable event")
	}
}

func TestAdderActivityFailureDoesNotFailAdd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"ok":true,"id":"evt-1"}`))
	}))
	defer server.Close()

	tokens := &fakeTokens{ensureToken: "token"}
	activity := &fakeActivity{err: errors.New("statestore.activity.append.sqlite: disk full")}
	adder := NewAdder(NewClient(server.URL, server.Client(), time.Second, nil), tokens, activity, nil)

	if _, err := adder.Add(context.Background(), standupEvent(), ""); err != nil {
		t.Fatalf("expected add to succeed despite activity failure, got %v", err)
	}
}
