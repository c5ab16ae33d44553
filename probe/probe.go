// Package probe implements the per-protocol request adapters that issue a
// single-turn challenge call against an AI inference endpoint. One
// capability — execute a call under a deadline and return the reply text —
// with one implementation per supported provider family, selected through
// a registry keyed on the declared provider type.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/vigil/core"
)

// HTTPClient abstracts outbound HTTP execution.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober executes one single-turn call against a provider endpoint and
// returns the reply text. Implementations must observe ctx and abort any
// in-flight call or open stream promptly when it is cancelled.
type Prober interface {
	Execute(ctx context.Context, cfg core.ProviderConfig, prompt string) (string, error)
}

// ErrEmptyReply reports that a call completed but produced no usable text.
var ErrEmptyReply = errors.New("probe: empty reply")

// ProtocolError reports a non-2xx response or a malformed body. The HTTP
// status and raw body are attached for diagnostics.
type ProtocolError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("probe: unexpected status %d", e.StatusCode)
	}
	if e.Err != nil {
		return "probe: " + e.Err.Error()
	}
	return "probe: protocol error"
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Options configures prober construction. The zero value is usable: a
// process-scoped client cache is created lazily and requests use default
// transport settings.
type Options struct {
	// Clients caches HTTP clients per (base URL, credential) pair. Shared
	// across probers so connections are reused between ticks. Optional;
	// correctness does not depend on it.
	Clients *ClientCache
}

type factory func(opts Options) Prober

// registry maps provider types to prober constructors. Adding a provider
// family means adding one entry here; the orchestrator never changes.
var registry = map[core.ProviderType]factory{
	core.ProviderOpenAI:    func(opts Options) Prober { return &openAIProber{opts: opts} },
	core.ProviderAnthropic: func(opts Options) Prober { return &anthropicProber{opts: opts} },
	core.ProviderGemini:    func(opts Options) Prober { return &geminiProber{opts: opts} },
}

// New returns the prober for the given provider type. An unsupported type
// is a configuration error surfaced at construction, never retried.
func New(t core.ProviderType, opts Options) (Prober, error) {
	create, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("probe: unsupported provider type %q", t)
	}
	if opts.Clients == nil {
		opts.Clients = NewClientCache()
	}
	return create(opts), nil
}

// DefaultEndpoint returns the public API endpoint used when a provider
// config carries no override.
func DefaultEndpoint(t core.ProviderType) string {
	switch t {
	case core.ProviderOpenAI:
		return defaultOpenAIEndpoint
	case core.ProviderAnthropic:
		return defaultAnthropicEndpoint
	case core.ProviderGemini:
		return defaultGeminiBase
	}
	return ""
}

// ClientCache hands out HTTP clients keyed by (base URL, credential) so
// distinct credentials never share a cached client. It is created once at
// process startup and torn down on shutdown.
type ClientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClientCache creates an empty client cache.
func NewClientCache() *ClientCache {
	return &ClientCache{clients: make(map[string]*http.Client)}
}

// Get returns the cached client for the given base URL and credential,
// creating one on first use.
func (c *ClientCache) Get(baseURL, credential string) *http.Client {
	key := baseURL + "\x00" + credential

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0, // deadline comes from the request context
		},
	}
	c.clients[key] = client
	return client
}

// Close releases idle connections held by all cached clients.
func (c *ClientCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		if t, ok := client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	c.clients = make(map[string]*http.Client)
}

// Suffixes stripped when deriving a base call URL from a configured
// endpoint.
var endpointSuffixes = []string{"/chat/completions", "/responses", "/messages"}

// deriveBaseURL strips any query string and a known call-path suffix from
// the configured endpoint, leaving the API base the adapter builds on.
func deriveBaseURL(endpoint string) string {
	base := endpoint
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimRight(base, "/")
	for _, suffix := range endpointSuffixes {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

// Reserved body keys that provider metadata may never override.
var reservedBodyKeys = map[string]struct{}{
	"model":       {},
	"prompt":      {},
	"messages":    {},
	"abortSignal": {},
}

// injectMetadata copies extra body fields from the provider config into an
// outgoing request body, skipping reserved keys.
func injectMetadata(body map[string]any, metadata map[string]any) {
	for key, value := range metadata {
		if _, reserved := reservedBodyKeys[key]; reserved {
			continue
		}
		body[key] = value
	}
}

// applyHeaders sets the caller-configured headers first, then the forced
// adapter headers, so transport defaults and config can never override the
// keys an adapter requires.
func applyHeaders(h http.Header, configured map[string]string, forced map[string]string) {
	for key, value := range configured {
		h.Set(key, value)
	}
	for key, value := range forced {
		h.Set(key, value)
	}
}
