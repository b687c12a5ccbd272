package extract

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default polling cadences.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultHealthInterval = 7 * time.Second
	maxBackoffInterval    = 30 * time.Second
	healthWindowSize      = 16
)

// Snapshot is what consumers render: the last good data plus loop state.
type Snapshot struct {
	Data        *ExtractionResult `json:"data,omitempty"`
	Loading     bool              `json:"loading"`
	Error       string            `json:"error,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Poller repeatedly pulls the latest extraction and backend health. Errors
// never drop previously seen data; they only widen the polling interval
// until the next success.
type Poller struct {
	client         *Client
	pollInterval   time.Duration
	healthInterval time.Duration
	logger         *zap.Logger

	mutex       sync.Mutex
	data        *ExtractionResult
	loading     bool
	lastError   string
	lastUpdated time.Time
	probes      []HealthProbe
}

// NewPoller constructs a poller over the given backend client.
func NewPoller(client *Client, pollInterval time.Duration, healthInterval time.Duration, logger *zap.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:         client,
		pollInterval:   pollInterval,
		healthInterval: healthInterval,
		logger:         logger,
		loading:        true,
	}
}

// Run blocks until the context is cancelled, driving both loops.
func (poller *Poller) Run(ctx context.Context) {
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		poller.pollLoop(ctx)
	}()
	go func() {
		defer loops.Done()
		poller.healthLoop(ctx)
	}()
	loops.Wait()
}

// Snapshot returns the current render state.
func (poller *Poller) Snapshot() Snapshot {
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	return Snapshot{
		Data:        poller.data,
		Loading:     poller.loading,
		Error:       poller.lastError,
		LastUpdated: poller.lastUpdated,
	}
}

// HealthWindow returns the bounded probe history, oldest first, with the
// rolling average latency.
func (poller *Poller) HealthWindow() ([]HealthProbe, time.Duration) {
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	window := make([]HealthProbe, len(poller.probes))
	copy(window, poller.probes)
	if len(window) == 0 {
		return window, 0
	}
	var total time.Duration
	for _, probe := range window {
		total += probe.Latency
	}
	return window, total / time.Duration(len(window))
}

// Online reports whether the most recent probe succeeded.
func (poller *Poller) Online() bool {
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	if len(poller.probes) == 0 {
		return false
	}
	return poller.probes[len(poller.probes)-1].OK
}

func (poller *Poller) pollLoop(ctx context.Context) {
	interval := poller.pollInterval
	poller.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if poller.tick(ctx) {
			interval = poller.pollInterval
		} else {
			interval *= 2
			if interval > maxBackoffInterval {
				interval = maxBackoffInterval
			}
		}
	}
}

// tick runs one poll. Returns false on error so the loop backs off.
func (poller *Poller) tick(ctx context.Context) bool {
	result, pollErr := poller.client.LatestExtraction(ctx)

	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	poller.loading = false
	if pollErr != nil {
		poller.lastError = pollErr.Error()
		return false
	}
	poller.lastError = ""
	if result != nil {
		poller.data = result
		poller.lastUpdated = time.Now().UTC()
	}
	return true
}

func (poller *Poller) healthLoop(ctx context.Context) {
	poller.probe(ctx)
	ticker := time.NewTicker(poller.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poller.probe(ctx)
		}
	}
}

func (poller *Poller) probe(ctx context.Context) {
	probe := poller.client.Health(ctx)
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	poller.probes = append(poller.probes, probe)
	if len(poller.probes) > healthWindowSize {
		poller.probes = poller.probes[len(poller.probes)-healthWindowSize:]
	}
}
