package bus

import (
	"sync"
	"time"
)

// Emitter delivers a single event downstream.
type Emitter func(Event)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced check.result events.
	// Default: 100ms
	CoalesceInterval time.Duration
}

// ThrottledEmitter wraps an Emitter and coalesces high-frequency
// check.result events. Tick-level events pass through immediately.
// Result events are coalesced per provider: only the latest result for
// each provider is kept within each coalesce interval. A background
// ticker flushes coalesced results at the configured interval.
type ThrottledEmitter struct {
	emit     Emitter
	interval time.Duration

	mu      sync.Mutex
	pending map[string]Event // providerID -> latest result event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter creates a new ThrottledEmitter that wraps the given
// emitter and coalesces EventCheckResult events at the configured interval.
func NewThrottledEmitter(emit Emitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		pending:  make(map[string]Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go te.run()

	return te
}

// Emit sends an event through the throttled emitter. Tick-level events pass
// through immediately to the wrapped emitter. Check results are coalesced:
// only the latest result per provider is kept and flushed at the configured
// interval.
func (te *ThrottledEmitter) Emit(e Event) {
	if e.Kind != EventCheckResult {
		te.emit(e)
		return
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if te.closed {
		return
	}

	te.pending[e.Provider] = e
}

// Close flushes any pending result events and stops the background ticker.
// It is safe to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

// run is the background goroutine that periodically flushes coalesced results.
func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			// Flush any remaining pending events before exiting.
			te.flush()
			return
		}
	}
}

// flush sends all pending coalesced result events to the wrapped emitter
// and clears the pending map.
func (te *ThrottledEmitter) flush() {
	te.mu.Lock()
	if len(te.pending) == 0 {
		te.mu.Unlock()
		return
	}

	// Swap out the pending map so we can release the lock during emission.
	toFlush := te.pending
	te.pending = make(map[string]Event)
	te.mu.Unlock()

	for _, e := range toFlush {
		te.emit(e)
	}
}
