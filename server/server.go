// Package server exposes the monitoring state over HTTP: provider listing,
// latest check snapshot, per-provider history, official vendor status, and
// a live SSE event stream.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/history"
)

// StatusSource provides the cached official vendor status snapshot.
type StatusSource interface {
	Snapshot() []core.OfficialStatus
}

// ServerConfig configures a Server instance.
type ServerConfig struct {
	// Providers is the configured provider set, re-read per request.
	Providers func() []core.ProviderConfig

	// History serves check listings. Required.
	History history.Store

	// Bus feeds the live SSE stream. Required for /api/stream.
	Bus bus.EventBus

	// Status serves /api/official-status. Optional; without it the
	// endpoint returns an empty list.
	Status StatusSource

	// CORSOrigin defaults to "*".
	CORSOrigin string

	// MaxBody caps request bodies (default 1 MB).
	MaxBody int64

	// Version is reported by /health.
	Version string

	Logger *slog.Logger
}

// Server is the Vigil HTTP API server.
type Server struct {
	providers  func() []core.ProviderConfig
	history    history.Store
	bus        bus.EventBus
	status     StatusSource
	corsOrigin string
	maxBody    int64
	version    string
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	providers := cfg.Providers
	if providers == nil {
		providers = func() []core.ProviderConfig { return nil }
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		providers:  providers,
		history:    cfg.History,
		bus:        cfg.Bus,
		status:     cfg.Status,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		version:    version,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("GET /api/checks/latest", s.handleLatestChecks)
	mux.HandleFunc("GET /api/history/{provider_id}", s.handleHistory)
	mux.HandleFunc("GET /api/official-status", s.handleOfficialStatus)
	mux.Handle("GET /api/stream", NewStreamHandler(s.bus, s.history))
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
