// Package core defines the shared domain types for Vigil: provider
// configuration, check results, official vendor status, and the tunables
// that govern a check cycle.
package core

import "time"

// ProviderType identifies the wire protocol family a provider speaks.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
)

// Valid reports whether t is one of the supported provider families.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return true
	}
	return false
}

// ProviderConfig describes one monitored endpoint. It is immutable for the
// duration of a check; the config collaborator owns the authoritative copy.
type ProviderConfig struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name" yaml:"name"`
	Group    string       `json:"group,omitempty" yaml:"group,omitempty"`
	Type     ProviderType `json:"type" yaml:"type"`
	APIKey   string       `json:"-" yaml:"api_key"`
	Endpoint string       `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string       `json:"model" yaml:"model"`

	// Headers are forwarded on every request unless the adapter forces
	// its own value for the same key.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Metadata holds extra body fields injected into the outgoing request,
	// reserved keys excluded.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Challenge is a freshly generated arithmetic prompt with its exact answer.
// A challenge is used for one check and never reused.
type Challenge struct {
	Prompt         string
	ExpectedAnswer string
}

// Status classifies the outcome of one synthetic check.
type Status string

const (
	// StatusOperational means a correct reply arrived within the
	// degraded-latency threshold.
	StatusOperational Status = "operational"

	// StatusDegraded means a correct reply arrived, but slower than the
	// degraded-latency threshold.
	StatusDegraded Status = "degraded"

	// StatusValidationFailed means a reply arrived but did not contain
	// the expected answer.
	StatusValidationFailed Status = "validation_failed"

	// StatusFailed means the call produced no usable reply: deadline
	// exceeded, or empty text after all attempts.
	StatusFailed Status = "failed"

	// StatusError means a lower-level transport or protocol fault.
	StatusError Status = "error"
)

// CheckResult is the immutable record of one (provider, tick) check.
// Exactly one is produced per provider per tick; results are appended to
// history, never edited.
type CheckResult struct {
	ID       string       `json:"id"`
	Provider string       `json:"provider"`
	Name     string       `json:"name"`
	Type     ProviderType `json:"type"`
	Endpoint string       `json:"endpoint"`
	Model    string       `json:"model"`
	Status   Status       `json:"status"`

	// LatencyMs is nil only when the check failed before any elapsed
	// time could be measured.
	LatencyMs *int64 `json:"latency_ms"`

	// PingLatencyMs is nil when the diagnostic ping failed. It never
	// influences Status.
	PingLatencyMs *int64 `json:"ping_latency_ms"`

	CheckedAt time.Time `json:"checked_at"`
	Message   string    `json:"message"`
}

// OfficialState classifies a vendor's own incident feed.
type OfficialState string

const (
	OfficialOperational OfficialState = "operational"
	OfficialDegraded    OfficialState = "degraded"
	OfficialDown        OfficialState = "down"
	OfficialUnknown     OfficialState = "unknown"
)

// OfficialStatus is the result of polling a vendor's status feed. It is an
// independent signal displayed alongside check results and never merged
// into them.
type OfficialStatus struct {
	Provider           string        `json:"provider"`
	Status             OfficialState `json:"status"`
	Message            string        `json:"message"`
	CheckedAt          time.Time     `json:"checked_at"`
	AffectedComponents []string      `json:"affected_components,omitempty"`
}

// Settings are the tunables the check engine re-reads at the start of each
// operation. Zero fields fall back to the defaults below.
type Settings struct {
	// CheckTimeout is the hard per-check ceiling, regardless of adapter.
	CheckTimeout time.Duration

	// DegradedThreshold separates operational from degraded latency.
	DegradedThreshold time.Duration

	// PollInterval is the tick spacing when no cron schedule is set.
	PollInterval time.Duration
}

// Default tunable values.
const (
	DefaultCheckTimeout      = 45 * time.Second
	DefaultDegradedThreshold = 6000 * time.Millisecond
	DefaultPollInterval      = 5 * time.Minute
)

// Normalized returns a copy of s with zero fields replaced by defaults.
func (s Settings) Normalized() Settings {
	if s.CheckTimeout <= 0 {
		s.CheckTimeout = DefaultCheckTimeout
	}
	if s.DegradedThreshold <= 0 {
		s.DegradedThreshold = DefaultDegradedThreshold
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	return s
}
