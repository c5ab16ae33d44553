package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/history"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// StreamHandler serves an SSE stream of monitoring events. On connect it
// replays the latest stored result per provider so clients render a full
// board immediately, then streams live bus events. Check results are
// coalesced per provider so a burst of completions does not flood slow
// clients; tick events pass through unthrottled.
//
// An optional "provider" query parameter narrows the stream to one
// provider (plus tick-level events).
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds. The stream
// runs until the client disconnects.
type StreamHandler struct {
	bus     bus.EventBus
	history history.Store

	// coalesceInterval overrides the throttle flush interval in tests.
	coalesceInterval time.Duration
}

// NewStreamHandler creates a StreamHandler over the given bus and history.
func NewStreamHandler(eb bus.EventBus, store history.Store) *StreamHandler {
	return &StreamHandler{bus: eb, history: store}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "event stream not configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	providerID := r.URL.Query().Get("provider")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so results landing during replay are
	// not lost.
	var sub bus.Subscription
	if providerID != "" {
		sub = h.bus.Subscribe(providerID)
	} else {
		sub = h.bus.SubscribeAll()
	}
	defer sub.Close()

	// Writes come from both this goroutine (heartbeats, replay) and the
	// throttle's flush goroutine.
	var writeMu sync.Mutex
	write := func(evt bus.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeSSEEvent(w, evt); err != nil {
			return
		}
		flusher.Flush()
	}

	if err := h.replayLatest(r, write, providerID); err != nil {
		return
	}

	throttle := bus.NewThrottledEmitter(bus.Emitter(write), bus.ThrottleConfig{
		CoalesceInterval: h.coalesceInterval,
	})
	defer throttle.Close()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				// Bus closed.
				return
			}
			throttle.Emit(evt)

		case <-heartbeat.C:
			writeMu.Lock()
			_, err := fmt.Fprint(w, ": ping\n\n")
			if err == nil {
				flusher.Flush()
			}
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// replayLatest writes the newest stored result per provider as
// check.result events with sequence 0, marking them as replayed state
// rather than live observations.
func (h *StreamHandler) replayLatest(r *http.Request, write func(bus.Event), providerID string) error {
	if h.history == nil {
		return nil
	}

	latest, err := h.history.Latest(r.Context())
	if err != nil {
		return err
	}

	for i := range latest {
		if providerID != "" && latest[i].Provider != providerID {
			continue
		}
		if r.Context().Err() != nil {
			return r.Context().Err()
		}
		write(bus.Event{
			Kind:     bus.EventCheckResult,
			Time:     latest[i].CheckedAt,
			Provider: latest[i].Provider,
			Result:   &latest[i],
		})
	}
	return nil
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
