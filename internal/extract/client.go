package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds one backend call.
const DefaultRequestTimeout = 10 * time.Second

// Client talks to the extraction backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a backend client for the given base URL.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type latestEnvelope struct {
	OK   bool              `json:"ok"`
	Data *ExtractionResult `json:"data,omitempty"`
}

// LatestExtraction polls the most recent extraction result. A malformed body
// is logged and reported as absent so polling loops keep functioning; a nil
// result with a nil error means "no new data".
func (client *Client) LatestExtraction(ctx context.Context) (*ExtractionResult, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/api/extract/latest", nil)
	if buildErr != nil {
		return nil, fmt.Errorf("extract.latest.request: %w", buildErr)
	}
	request.Header.Set("Cache-Control", "no-store")

	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		return nil, fmt.Errorf("extract.latest.fetch: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("extract.latest.status: %d", response.StatusCode)
	}

	body, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return nil, fmt.Errorf("extract.latest.read: %w", readErr)
	}
	var envelope latestEnvelope
	if decodeErr := json.Unmarshal(body, &envelope); decodeErr != nil {
		client.logger.Warn("extraction poll returned malformed json",
			zap.String("code", "extract.latest.malformed"),
			zap.Error(decodeErr))
		return nil, nil
	}
	return envelope.Data, nil
}

// HealthProbe is one liveness measurement.
type HealthProbe struct {
	At      time.Time     `json:"at"`
	Latency time.Duration `json:"latency"`
	OK      bool          `json:"ok"`
}

// Health probes the backend liveness endpoint, measuring round-trip latency.
// Any non-2xx or network error means offline.
func (client *Client) Health(ctx context.Context) HealthProbe {
	started := time.Now()
	probe := HealthProbe{At: started.UTC()}

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/api/healthz", nil)
	if buildErr != nil {
		probe.Latency = time.Since(started)
		return probe
	}
	request.Header.Set("Cache-Control", "no-store")

	response, requestErr := client.httpClient.Do(request)
	probe.Latency = time.Since(started)
	if requestErr != nil {
		return probe
	}
	defer func() { _ = response.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 1<<10))
	probe.OK = response.StatusCode >= 200 && response.StatusCode <= 299
	return probe
}
