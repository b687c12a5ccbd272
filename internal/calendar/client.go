package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCreateTimeout bounds one create-event call client-side.
const DefaultCreateTimeout = 15 * time.Second

// DefaultCalendarID is the calendar used when the caller names none.
const DefaultCalendarID = "primary"

var (
	// ErrTokenExpired indicates the proxy rejected the bearer token; the
	// caller owns the single silent-refresh-and-retry recovery.
	ErrTokenExpired = errors.New("calendar.create.token_expired")
	// ErrClientTimeout is the normalized form of the 15s abort, distinct
	// from generic network failure.
	ErrClientTimeout = errors.New("calendar.create.client_timeout")
)

// CreateResult is the proxy's answer to a successful event creation.
type CreateResult struct {
	ID       string `json:"id,omitempty"`
	HTMLLink string `json:"htmlLink,omitempty"`
}

// Client posts shaped event payloads to the Google Calendar proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient constructs a proxy client for the given base URL.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}
}

type createRequest struct {
	CalendarID string       `json:"calendarId"`
	Event      EventPayload `json:"event"`
}

type createEnvelope struct {
	OK       bool   `json:"ok"`
	ID       string `json:"id,omitempty"`
	HTMLLink string `json:"htmlLink,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CreateEvent asks the proxy to create the event server-side. HTTP 401 and a
// TOKEN_EXPIRED error body both normalize to ErrTokenExpired; the client
// deadline normalizes to ErrClientTimeout. A non-JSON success body is
// tolerated.
func (client *Client) CreateEvent(ctx context.Context, accessToken string, calendarID string, payload EventPayload) (CreateResult, error) {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}

	body, encodeErr := json.Marshal(createRequest{CalendarID: calendarID, Event: payload})
	if encodeErr != nil {
		return CreateResult{}, fmt.Errorf("calendar.create.encode: %w", encodeErr)
	}

	requestCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	request, buildErr := http.NewRequestWithContext(requestCtx, http.MethodPost, client.baseURL+"/api/google/events", bytes.NewReader(body))
	if buildErr != nil {
		return CreateResult{}, fmt.Errorf("calendar.create.request: %w", buildErr)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		if errors.Is(requestErr, context.DeadlineExceeded) || requestCtx.Err() == context.DeadlineExceeded {
			return CreateResult{}, ErrClientTimeout
		}
		return CreateResult{}, fmt.Errorf("calendar.create.fetch: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return CreateResult{}, fmt.Errorf("calendar.create.read: %w", readErr)
	}

	var envelope createEnvelope
	decoded := json.Unmarshal(raw, &envelope) == nil
	if !decoded {
		client.logger.Warn("calendar proxy returned malformed json",
			zap.String("code", "calendar.create.malformed"),
			zap.Int("status", response.StatusCode))
	}

	if response.StatusCode == http.StatusUnauthorized || (decoded && envelope.Error == "TOKEN_EXPIRED") {
		return CreateResult{}, ErrTokenExpired
	}
	if response.StatusCode < 200 || response.StatusCode > 299 || (decoded && !envelope.OK && envelope.Error != "") {
		reason := envelope.Error
		if reason == "" {
			reason = fmt.Sprintf("%d %s", response.StatusCode, http.StatusText(response.StatusCode))
		}
		return CreateResult{}, fmt.Errorf("calendar.create.backend: %s", reason)
	}

	return CreateResult{ID: envelope.ID, HTMLLink: envelope.HTMLLink}, nil
}
