// Package httpapi exposes the runtime over HTTP: a small JSON management API
// for tool servers, a websocket event feed, and the usual health and metrics
// endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herrald/beacon/internal/domain/models"
	"github.com/herrald/beacon/internal/events"
	"github.com/herrald/beacon/internal/ports"
)

const (
	readTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Runtime is the slice of the lifecycle manager the API needs.
type Runtime interface {
	Register(cfg models.ToolServerConfig) error
	Start(ctx context.Context, id string) (models.ServerStatus, error)
	Stop(ctx context.Context, id string) (models.ServerStatus, error)
	Delete(ctx context.Context, id string) error
	Status(id string) (models.ServerStatus, error)
	Snapshot() []models.ServerStatus
	Toolsets() []ports.Toolset
}

type Server struct {
	router *chi.Mux
	server *http.Server
	hub    *Hub
}

// NewServer wires routes for the given runtime. The hub begins relaying
// events as soon as Start is called.
func NewServer(addr string, rt Runtime, bus *events.Bus) *Server {
	hub := NewHub(bus)
	router := chi.NewRouter()

	router.Use(Recovery)
	router.Use(Logger)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/ws", hub.ServeHTTP)

	h := &serverHandler{rt: rt}
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/servers", h.List)
		r.Post("/servers", h.Create)
		r.Get("/servers/{id}", h.Get)
		r.Post("/servers/{id}/start", h.Start)
		r.Post("/servers/{id}/stop", h.Stop)
		r.Delete("/servers/{id}", h.Delete)
		r.Get("/tools", h.ListTools)
	})

	return &Server{
		router: router,
		hub:    hub,
		server: &http.Server{
			Addr:        addr,
			Handler:     router,
			ReadTimeout: readTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.hub.Run()
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}
