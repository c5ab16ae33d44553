package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/petal-labs/vigil/core"
)

const defaultHistoryLimit = 100

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

// providerView is the redacted provider representation. API keys never
// leave the process; the ProviderConfig json tags drop them, and headers
// are masked wholesale since they can carry credentials too.
type providerView struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Group    string            `json:"group,omitempty"`
	Type     core.ProviderType `json:"type"`
	Endpoint string            `json:"endpoint,omitempty"`
	Model    string            `json:"model"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.providers()
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, providerView{
			ID:       p.ID,
			Name:     p.Name,
			Group:    p.Group,
			Type:     p.Type,
			Endpoint: p.Endpoint,
			Model:    p.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

func (s *Server) handleLatestChecks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable", "history store is not configured")
		return
	}

	latest, err := s.history.Latest(r.Context())
	if err != nil {
		s.logger.Error("list latest checks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load latest checks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": latest})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable", "history store is not configured")
		return
	}

	providerID := strings.TrimSpace(r.PathValue("provider_id"))
	if providerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "provider_id is required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	results, err := s.history.List(r.Context(), providerID, limit)
	if err != nil {
		s.logger.Error("list history", "provider", providerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	if len(results) == 0 {
		if !s.knownProvider(providerID) {
			writeError(w, http.StatusNotFound, "not_found", "unknown provider "+strconv.Quote(providerID))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": providerID,
		"checks":   results,
	})
}

func (s *Server) handleOfficialStatus(w http.ResponseWriter, r *http.Request) {
	var snapshot []core.OfficialStatus
	if s.status != nil {
		snapshot = s.status.Snapshot()
	}
	if snapshot == nil {
		snapshot = []core.OfficialStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": snapshot})
}

func (s *Server) knownProvider(id string) bool {
	for _, p := range s.providers() {
		if p.ID == id {
			return true
		}
	}
	return false
}
