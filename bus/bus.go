// Package bus provides an event distribution system for check execution.
// It allows components to publish and subscribe to monitoring events,
// enabling decoupled communication between the scheduler and observers
// such as the SSE feed, loggers, and metrics collectors.
package bus

import (
	"time"

	"github.com/petal-labs/vigil/core"
)

// EventKind identifies the type of a monitoring event.
type EventKind string

const (
	// EventCheckResult is published once per completed provider check.
	EventCheckResult EventKind = "check.result"

	// EventTickStarted is published when a scheduler tick begins.
	EventTickStarted EventKind = "tick.started"

	// EventTickCompleted is published after a tick's results are persisted.
	EventTickCompleted EventKind = "tick.completed"

	// EventTickSkipped is published when a tick is skipped because the
	// previous one is still running.
	EventTickSkipped EventKind = "tick.skipped"
)

// TickSummary describes one scheduler tick.
type TickSummary struct {
	// Providers is the number of providers checked this tick.
	Providers int `json:"providers"`

	// StatusCounts maps each observed status to its count.
	StatusCounts map[core.Status]int `json:"status_counts,omitempty"`

	// Duration is how long the tick took end to end.
	Duration time.Duration `json:"duration"`
}

// Event is a single monitoring event.
type Event struct {
	// Seq is a monotonically increasing sequence number assigned by the bus.
	Seq uint64 `json:"seq"`

	// Kind identifies the event type.
	Kind EventKind `json:"kind"`

	// Time is when the event was published.
	Time time.Time `json:"time"`

	// Provider is the provider ID for check.result events, empty otherwise.
	Provider string `json:"provider,omitempty"`

	// Result carries the check outcome for check.result events.
	Result *core.CheckResult `json:"result,omitempty"`

	// Tick carries the tick summary for tick.completed events.
	Tick *TickSummary `json:"tick,omitempty"`
}

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event Event)

	// Subscribe registers a subscriber for a specific provider.
	// Tick-level events are delivered to all subscribers regardless of
	// provider. Returns a Subscription that must be closed when done.
	Subscribe(providerID string) Subscription

	// SubscribeAll registers a subscriber that receives every event.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan Event

	// Close unsubscribes and releases resources.
	Close() error
}
