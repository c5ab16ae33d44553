package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/history"
)

// sseFrame is one parsed SSE event frame.
type sseFrame struct {
	ID    string
	Event string
	Data  string
}

// readFrames reads n event frames from an SSE stream, skipping comments.
func readFrames(t *testing.T, r *bufio.Reader, n int) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	for len(frames) < n {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream after %d frames: %v", len(frames), err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if current.Data != "" {
				frames = append(frames, current)
				current = sseFrame{}
			}
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "id: "):
			current.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func openStream(t *testing.T, url string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		resp.Body.Close()
		cancel()
	}
}

func TestStream_ReplaysLatestSnapshot(t *testing.T) {
	store := history.NewMemStore()
	if _, err := store.Append(context.Background(), []core.CheckResult{
		testResult("anthropic", core.StatusOperational),
		testResult("openai", core.StatusDegraded),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	handler := NewStreamHandler(b, store)
	handler.coalesceInterval = 10 * time.Millisecond
	ts := httptest.NewServer(handler)
	defer ts.Close()

	r, done := openStream(t, ts.URL)
	defer done()

	frames := readFrames(t, r, 2)
	providers := make(map[string]core.Status)
	for _, f := range frames {
		if f.Event != string(bus.EventCheckResult) {
			t.Errorf("event = %q, want check.result", f.Event)
		}
		if f.ID != "0" {
			t.Errorf("replayed frame id = %q, want 0", f.ID)
		}
		var evt bus.Event
		if err := json.Unmarshal([]byte(f.Data), &evt); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if evt.Result == nil {
			t.Fatal("frame missing result")
		}
		providers[evt.Provider] = evt.Result.Status
	}

	if providers["anthropic"] != core.StatusOperational || providers["openai"] != core.StatusDegraded {
		t.Errorf("replayed snapshot = %v", providers)
	}
}

func TestStream_DeliversLiveEvents(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	handler := NewStreamHandler(b, history.NewMemStore())
	handler.coalesceInterval = 10 * time.Millisecond
	ts := httptest.NewServer(handler)
	defer ts.Close()

	r, done := openStream(t, ts.URL)
	defer done()

	// Give the handler a moment to subscribe, then publish.
	time.Sleep(50 * time.Millisecond)
	latency := int64(220)
	b.Publish(bus.Event{
		Kind:     bus.EventCheckResult,
		Provider: "gemini",
		Result: &core.CheckResult{
			ID:        "gemini-1",
			Provider:  "gemini",
			Status:    core.StatusOperational,
			LatencyMs: &latency,
		},
	})

	frames := readFrames(t, r, 1)
	var evt bus.Event
	if err := json.Unmarshal([]byte(frames[0].Data), &evt); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if evt.Provider != "gemini" || evt.Seq == 0 {
		t.Errorf("live event = %+v, want gemini with assigned seq", evt)
	}
}

func TestStream_TickEventsBypassThrottle(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	handler := NewStreamHandler(b, history.NewMemStore())
	// Long coalesce interval: only pass-through events arrive promptly.
	handler.coalesceInterval = 10 * time.Second
	ts := httptest.NewServer(handler)
	defer ts.Close()

	r, done := openStream(t, ts.URL)
	defer done()

	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.Event{
		Kind: bus.EventTickCompleted,
		Tick: &bus.TickSummary{Providers: 3, Duration: time.Second},
	})

	frames := readFrames(t, r, 1)
	if frames[0].Event != string(bus.EventTickCompleted) {
		t.Errorf("event = %q, want tick.completed", frames[0].Event)
	}
}

func TestStream_ProviderFilter(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	handler := NewStreamHandler(b, history.NewMemStore())
	handler.coalesceInterval = 10 * time.Millisecond
	ts := httptest.NewServer(handler)
	defer ts.Close()

	r, done := openStream(t, ts.URL+"?provider=openai")
	defer done()

	time.Sleep(50 * time.Millisecond)
	b.Publish(resultEventFor("anthropic"))
	b.Publish(resultEventFor("openai"))

	frames := readFrames(t, r, 1)
	var evt bus.Event
	if err := json.Unmarshal([]byte(frames[0].Data), &evt); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if evt.Provider != "openai" {
		t.Errorf("got provider %q, want only openai events", evt.Provider)
	}
}

func TestStream_NoBus(t *testing.T) {
	handler := NewStreamHandler(nil, history.NewMemStore())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func resultEventFor(provider string) bus.Event {
	latency := int64(100)
	return bus.Event{
		Kind:     bus.EventCheckResult,
		Provider: provider,
		Result: &core.CheckResult{
			ID:        provider + "-live",
			Provider:  provider,
			Status:    core.StatusOperational,
			LatencyMs: &latency,
		},
	}
}
