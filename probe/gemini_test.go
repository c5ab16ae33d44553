package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/petal-labs/vigil/core"
)

func TestResolveGeminiURLs(t *testing.T) {
	tests := []struct {
		name         string
		endpoint     string
		model        string
		wantStream   string
		wantFallback string
		wantErr      bool
	}{
		{
			name:         "models base gets action appended",
			endpoint:     "https://generativelanguage.googleapis.com/v1beta/models",
			model:        "gemini-2.0-flash",
			wantStream:   "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse",
			wantFallback: "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		},
		{
			name:         "empty endpoint uses public base",
			endpoint:     "",
			model:        "gemini-2.0-flash",
			wantStream:   defaultGeminiBase + "/gemini-2.0-flash:streamGenerateContent?alt=sse",
			wantFallback: defaultGeminiBase + "/gemini-2.0-flash:generateContent",
		},
		{
			name:         "fully qualified stream URL used as-is",
			endpoint:     "https://gw.example.com/v1beta/models/gemini-2.0-flash:streamGenerateContent",
			model:        "ignored",
			wantStream:   "https://gw.example.com/v1beta/models/gemini-2.0-flash:streamGenerateContent",
			wantFallback: "https://gw.example.com/v1beta/models/gemini-2.0-flash:generateContent",
		},
		{
			name:         "fully qualified non-stream URL has no fallback",
			endpoint:     "https://gw.example.com/v1beta/models/gemini-2.0-flash:generateContent",
			model:        "ignored",
			wantStream:   "https://gw.example.com/v1beta/models/gemini-2.0-flash:generateContent",
			wantFallback: "",
		},
		{
			name:     "missing model",
			endpoint: "https://generativelanguage.googleapis.com/v1beta/models",
			model:    "",
			wantErr:  true,
		},
		{
			name:     "unusable endpoint",
			endpoint: "https://gw.example.com/v2/chat",
			model:    "gemini-2.0-flash",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, fallback, err := resolveGeminiURLs(tt.endpoint, tt.model)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveGeminiURLs: %v", err)
			}
			if stream != tt.wantStream {
				t.Errorf("stream = %q, want %q", stream, tt.wantStream)
			}
			if fallback != tt.wantFallback {
				t.Errorf("fallback = %q, want %q", fallback, tt.wantFallback)
			}
		})
	}
}

func TestGeminiProber_StreamSuccess(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("x-goog-api-key = %q", r.Header.Get("x-goog-api-key"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: " + chunk("The answer") + "\n\n"))
		_, _ = w.Write([]byte("data: " + chunk("The answer is 8.") + "\n\n"))
	}))
	defer srv.Close()

	p, _ := New(core.ProviderGemini, Options{})
	text, err := p.Execute(context.Background(), core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "What is 3 + 5?")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text != "The answer is 8." {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no fallback on success)", calls.Load())
	}
}

func TestGeminiProber_EmptyStreamFallsBackOnce(t *testing.T) {
	var streamCalls, generateCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, ":streamGenerateContent") {
			streamCalls.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			// Keep-alives only, no usable text.
			_, _ = w.Write([]byte("data: null\n\n"))
			return
		}
		generateCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chunk("8")))
	}))
	defer srv.Close()

	p, _ := New(core.ProviderGemini, Options{})
	text, err := p.Execute(context.Background(), core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "What is 3 + 5?")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text != "8" {
		t.Errorf("text = %q, want %q", text, "8")
	}
	if streamCalls.Load() != 1 || generateCalls.Load() != 1 {
		t.Errorf("calls = (%d stream, %d generate), want exactly one of each",
			streamCalls.Load(), generateCalls.Load())
	}
}

func TestGeminiProber_BothAttemptsEmpty(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	p, _ := New(core.ProviderGemini, Options{})
	_, err := p.Execute(context.Background(), core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "ping")
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("err = %v, want ErrEmptyReply", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want exactly 2 (fixed two-attempt policy)", calls.Load())
	}
}

func TestGeminiProber_JSONArrayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[` + chunk("4") + `,` + chunk("2") + `]`))
	}))
	defer srv.Close()

	p, _ := New(core.ProviderGemini, Options{})
	text, err := p.Execute(context.Background(), core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text != "42" {
		t.Errorf("text = %q, want %q", text, "42")
	}
}

func TestGeminiProber_Non2xxCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := New(core.ProviderGemini, Options{})
	_, err := p.Execute(context.Background(), core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "ping")

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if protoErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", protoErr.StatusCode)
	}
	if !strings.Contains(protoErr.Body, "quota exceeded") {
		t.Errorf("Body = %q, want raw body attached", protoErr.Body)
	}
}

func TestGeminiProber_CancelledContextDoesNotRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		cancel()
	}()

	p, _ := New(core.ProviderGemini, Options{})
	_, err := p.Execute(ctx, core.ProviderConfig{
		APIKey:   "g-key",
		Endpoint: srv.URL + "/v1beta/models",
		Model:    "gemini-2.0-flash",
	}, "ping")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls.Load() > 1 {
		t.Errorf("calls = %d, want at most 1 after cancellation", calls.Load())
	}
}
