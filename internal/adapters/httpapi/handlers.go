package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
)

type serverHandler struct {
	rt Runtime
}

// List handles GET /servers
func (h *serverHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"servers": h.rt.Snapshot()}, http.StatusOK)
}

// Create handles POST /servers. The server is registered stopped; starting
// it is a separate call.
func (h *serverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg models.ToolServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Register upserts, which config reloads rely on; the API is stricter so
	// a duplicate create cannot silently rewrite a live server's config.
	if _, err := h.rt.Status(cfg.ID); err == nil {
		respondDomainError(w, fmt.Errorf("%w: %s", domain.ErrServerExists, cfg.ID))
		return
	}

	if err := h.rt.Register(cfg); err != nil {
		respondDomainError(w, err)
		return
	}

	status, err := h.rt.Status(cfg.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, status, http.StatusCreated)
}

// Get handles GET /servers/{id}
func (h *serverHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.rt.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

// Start handles POST /servers/{id}/start
func (h *serverHandler) Start(w http.ResponseWriter, r *http.Request) {
	status, err := h.rt.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

// Stop handles POST /servers/{id}/stop
func (h *serverHandler) Stop(w http.ResponseWriter, r *http.Request) {
	status, err := h.rt.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

// Delete handles DELETE /servers/{id}
func (h *serverHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTools handles GET /tools: every tool currently callable, across all
// running servers, under its registered name.
func (h *serverHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	type toolEntry struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		ServerID    string `json:"server_id"`
	}

	tools := []toolEntry{}
	for _, ts := range h.rt.Toolsets() {
		for _, def := range ts.List() {
			tools = append(tools, toolEntry{
				Name:        def.Name,
				Description: def.Description,
				ServerID:    ts.ServerID(),
			})
		}
	}
	respondJSON(w, map[string]any{"tools": tools}, http.StatusOK)
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrServerNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrServerDisabled), errors.Is(err, domain.ErrServerExists):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConnectFailed), errors.Is(err, domain.ErrTimeout):
		respondError(w, err.Error(), http.StatusBadGateway)
	default:
		respondError(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
