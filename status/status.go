// Package status polls vendor status feeds. The result is an independent
// signal shown alongside synthetic check results; it is cached between
// refreshes and never merged into check status.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/petal-labs/vigil/core"
)

const (
	defaultRefreshInterval = 5 * time.Minute
	defaultFetchTimeout    = 10 * time.Second
	maxFeedBody            = 4 << 20

	openAIFeedURL    = "https://status.openai.com/api/v2/summary.json"
	anthropicFeedURL = "https://status.anthropic.com/api/v2/summary.json"
	geminiFeedURL    = "https://status.cloud.google.com/incidents.json"
)

// MonitorConfig configures a status feed Monitor.
type MonitorConfig struct {
	// Providers is re-read at every refresh. Required.
	Providers func() []core.ProviderConfig

	// RefreshInterval defaults to 5 minutes.
	RefreshInterval time.Duration

	// HTTPClient defaults to one with a 10 second timeout.
	HTTPClient *http.Client

	// FeedURLs overrides the per-type feed URL, keyed by provider type.
	// Used by tests and self-hosted mirrors.
	FeedURLs map[core.ProviderType]string

	// MaxRetries bounds the per-fetch retry count (default 2).
	MaxRetries uint64

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Monitor polls vendor status feeds on an interval and caches the latest
// snapshot per provider. Feed failures degrade to OfficialUnknown rather
// than erroring out of the loop.
type Monitor struct {
	providers  func() []core.ProviderConfig
	interval   time.Duration
	client     *http.Client
	feedURLs   map[core.ProviderType]string
	maxRetries uint64
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	cache  map[string]core.OfficialStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a status feed Monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Providers == nil {
		return nil, errors.New("status: providers source is nil")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Monitor{
		providers:  cfg.Providers,
		interval:   cfg.RefreshInterval,
		client:     cfg.HTTPClient,
		feedURLs:   cfg.FeedURLs,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
		now:        cfg.Now,
		cache:      make(map[string]core.OfficialStatus),
	}, nil
}

// Start begins background polling. The first refresh runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("status monitor is nil")
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.RefreshOnce(loopCtx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.RefreshOnce(loopCtx)
			}
		}
	}()

	_ = ctx
	return nil
}

// Stop halts background polling and waits for the loop to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshOnce fetches every configured provider's feed and updates the
// cache. Fetch failures for one provider never block the others.
func (m *Monitor) RefreshOnce(ctx context.Context) {
	for _, provider := range m.providers() {
		official := m.fetch(ctx, provider)
		m.mu.Lock()
		m.cache[provider.ID] = official
		m.mu.Unlock()
	}
}

// Snapshot returns the cached status per provider, sorted by provider ID.
func (m *Monitor) Snapshot() []core.OfficialStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.OfficialStatus, 0, len(m.cache))
	for _, s := range m.cache {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (m *Monitor) fetch(ctx context.Context, provider core.ProviderConfig) core.OfficialStatus {
	url := m.feedURL(provider.Type)
	checkedAt := m.now().UTC()

	if url == "" {
		return core.OfficialStatus{
			Provider:  provider.ID,
			Status:    core.OfficialUnknown,
			Message:   fmt.Sprintf("no status feed for provider type %q", provider.Type),
			CheckedAt: checkedAt,
		}
	}

	body, err := m.get(ctx, url)
	if err != nil {
		m.logger.Warn("status feed fetch failed", "provider", provider.ID, "url", url, "error", err)
		return core.OfficialStatus{
			Provider:  provider.ID,
			Status:    core.OfficialUnknown,
			Message:   "status feed unreachable",
			CheckedAt: checkedAt,
		}
	}

	var official core.OfficialStatus
	switch provider.Type {
	case core.ProviderGemini:
		official, err = parseGoogleIncidents(body)
	default:
		official, err = parseStatuspageSummary(body)
	}
	if err != nil {
		m.logger.Warn("status feed parse failed", "provider", provider.ID, "url", url, "error", err)
		return core.OfficialStatus{
			Provider:  provider.ID,
			Status:    core.OfficialUnknown,
			Message:   "status feed returned malformed data",
			CheckedAt: checkedAt,
		}
	}

	official.Provider = provider.ID
	official.CheckedAt = checkedAt
	return official
}

func (m *Monitor) feedURL(t core.ProviderType) string {
	if url, ok := m.feedURLs[t]; ok {
		return url
	}
	switch t {
	case core.ProviderOpenAI:
		return openAIFeedURL
	case core.ProviderAnthropic:
		return anthropicFeedURL
	case core.ProviderGemini:
		return geminiFeedURL
	default:
		return ""
	}
}

// get fetches the feed body with bounded exponential-backoff retries.
// Non-2xx responses and transport errors are retried; the context caps
// total time.
func (m *Monitor) get(ctx context.Context, url string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, m.maxRetries), ctx)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("status: build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("status: fetch feed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status: feed returned HTTP %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
		if err != nil {
			return fmt.Errorf("status: read feed body: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// statuspageSummary is the subset of a statuspage.io v2 summary feed the
// monitor reads.
type statuspageSummary struct {
	Status struct {
		Indicator   string `json:"indicator"`
		Description string `json:"description"`
	} `json:"status"`
	Components []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"components"`
}

func parseStatuspageSummary(body []byte) (core.OfficialStatus, error) {
	var summary statuspageSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return core.OfficialStatus{}, fmt.Errorf("status: decode summary: %w", err)
	}

	var state core.OfficialState
	switch summary.Status.Indicator {
	case "none":
		state = core.OfficialOperational
	case "minor":
		state = core.OfficialDegraded
	case "major", "critical":
		state = core.OfficialDown
	default:
		state = core.OfficialUnknown
	}

	var affected []string
	for _, c := range summary.Components {
		if c.Status != "" && c.Status != "operational" {
			affected = append(affected, c.Name)
		}
	}

	return core.OfficialStatus{
		Status:             state,
		Message:            summary.Status.Description,
		AffectedComponents: affected,
	}, nil
}

// googleIncident is the subset of a Google Cloud incidents feed entry the
// monitor reads. Incidents with no end time are ongoing.
type googleIncident struct {
	End          string `json:"end"`
	Severity     string `json:"severity"`
	ServiceName  string `json:"service_name"`
	ExternalDesc string `json:"external_desc"`
}

func parseGoogleIncidents(body []byte) (core.OfficialStatus, error) {
	var incidents []googleIncident
	if err := json.Unmarshal(body, &incidents); err != nil {
		return core.OfficialStatus{}, fmt.Errorf("status: decode incidents: %w", err)
	}

	state := core.OfficialOperational
	message := "All systems operational"
	var affected []string

	for _, incident := range incidents {
		if incident.End != "" {
			continue
		}
		if !aiRelatedService(incident.ServiceName) {
			continue
		}

		affected = append(affected, incident.ServiceName)
		if incident.Severity == "high" {
			state = core.OfficialDown
		} else if state != core.OfficialDown {
			state = core.OfficialDegraded
		}
		if incident.ExternalDesc != "" {
			message = incident.ExternalDesc
		}
	}

	if state != core.OfficialOperational && message == "All systems operational" {
		message = "Ongoing incident"
	}

	return core.OfficialStatus{
		Status:             state,
		Message:            message,
		AffectedComponents: affected,
	}, nil
}

// aiRelatedService reports whether a Google Cloud service name belongs to
// the model-serving surface the checks exercise.
func aiRelatedService(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "vertex") ||
		strings.Contains(lower, "gemini") ||
		strings.Contains(lower, "generative")
}
