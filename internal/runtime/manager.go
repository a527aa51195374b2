// Package runtime owns the lifecycle of configured tool servers: starting
// and stopping their connections, watching their health, and exposing their
// tool catalogs as toolsets for the agent loop.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herrald/beacon/internal/adapters/mcp"
	"github.com/herrald/beacon/internal/adapters/metrics"
	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
	"github.com/herrald/beacon/internal/events"
	"github.com/herrald/beacon/internal/ports"
)

// Options tune the manager's timing policies. Zero values take defaults.
type Options struct {
	// ConnectTimeout bounds connect + initialize + list-tools during start.
	ConnectTimeout time.Duration
	// ToolCallTimeout bounds a single tool invocation.
	ToolCallTimeout time.Duration
	// HealthInterval is the period between health probes on a live server.
	HealthInterval time.Duration
	// MaxFailedProbes is how many consecutive failed probes an unhealthy
	// server gets before it is marked failed.
	MaxFailedProbes int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 15 * time.Second
	}
	if out.ToolCallTimeout <= 0 {
		out.ToolCallTimeout = 60 * time.Second
	}
	if out.HealthInterval <= 0 {
		out.HealthInterval = 30 * time.Second
	}
	if out.MaxFailedProbes <= 0 {
		out.MaxFailedProbes = 5
	}
	return out
}

// Manager is the lifecycle manager. It is constructed once at process start
// and handed by reference to every consumer; there is no ambient global.
type Manager struct {
	mu      sync.RWMutex
	handles map[string]*handle

	store ports.ConfigStore
	bus   *events.Bus
	ids   ports.IDGenerator
	opts  Options
}

func NewManager(store ports.ConfigStore, bus *events.Bus, ids ports.IDGenerator, opts Options) *Manager {
	return &Manager{
		handles: make(map[string]*handle),
		store:   store,
		bus:     bus,
		ids:     ids,
		opts:    opts.withDefaults(),
	}
}

// LoadFromStore registers a handle for every configured server. Already
// registered ids keep their current runtime state; their config is refreshed.
func (m *Manager) LoadFromStore() error {
	if m.store == nil {
		return nil
	}
	for _, cfg := range m.store.ToolServers() {
		if err := m.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or refreshes a server config.
func (m *Manager) Register(cfg models.ToolServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[cfg.ID]; ok {
		h.mu.Lock()
		h.cfg = cfg
		h.mu.Unlock()
		return nil
	}
	m.handles[cfg.ID] = newHandle(cfg)
	return nil
}

func (m *Manager) lookup(id string) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, id)
	}
	return h, nil
}

// Start brings a server to Running. Starting an already Running server is a
// no-op that returns the existing status.
func (m *Manager) Start(ctx context.Context, id string) (models.ServerStatus, error) {
	h, err := m.lookup(id)
	if err != nil {
		return models.ServerStatus{}, err
	}

	h.transMu.Lock()
	defer h.transMu.Unlock()

	h.mu.Lock()
	if h.state.Runnable() {
		st := h.statusLocked()
		h.mu.Unlock()
		return st, nil
	}
	if !h.cfg.Enabled {
		st := h.statusLocked()
		h.mu.Unlock()
		return st, fmt.Errorf("%w: %s", domain.ErrServerDisabled, id)
	}
	cfg := h.cfg
	if h.state == models.StateFailed {
		h.setState(models.StateRestarting, nil)
	} else {
		h.setState(models.StateStarting, nil)
	}
	// A prior client, if any, is fully disposed before a new connect attempt.
	h.disposeClientLocked()
	h.mu.Unlock()

	m.publish(events.ServerStarting{ServerID: id})

	client, tools, err := m.connect(ctx, &cfg)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.setState(models.StateFailed, err)
		metrics.ServerStartsTotal.WithLabelValues(id, "failure").Inc()
		m.publish(events.ServerStartFailed{ServerID: id, Error: err.Error()})
		slog.Error("tool server start failed", "server_id", id, "error", err)
		return h.statusLocked(), err
	}

	h.cfg = cfg // key-file material resolved during connect
	h.client = client
	h.tools = tools
	h.toolCount = len(tools)
	h.failedProbes = 0
	h.setState(models.StateRunning, nil)

	healthCtx, cancel := context.WithCancel(context.Background())
	h.healthCancel = cancel
	go m.healthLoop(healthCtx, h)

	metrics.ServerStartsTotal.WithLabelValues(id, "success").Inc()
	metrics.ServersRunning.Inc()
	m.publish(events.ServerStarted{ServerID: id, ToolCount: len(tools)})
	slog.Info("tool server running", "server_id", id, "tools", len(tools))

	return h.statusLocked(), nil
}

// connect builds the transport for the config, initializes the protocol and
// fetches the tool catalog, all under the connect timeout.
func (m *Manager) connect(ctx context.Context, cfg *models.ToolServerConfig) (*mcp.Client, []models.ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	if err := mcp.LoadKeyFile(cfg); err != nil {
		return nil, nil, err
	}

	var transport mcp.Transport
	switch cfg.Transport {
	case models.TransportStdio:
		extraEnv, err := mcp.ResolveEnv(cfg)
		if err != nil {
			return nil, nil, err
		}
		transport, err = mcp.NewStdioTransport(cfg.Command, cfg.Args, cfg.Env, extraEnv)
		if err != nil {
			return nil, nil, err
		}
	case models.TransportHTTP:
		headers, err := mcp.ResolveHeaders(cfg)
		if err != nil {
			return nil, nil, err
		}
		transport, err = mcp.NewHTTPTransport(cfg.URL, headers)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("%w: unsupported transport %q", domain.ErrInvalidInput, cfg.Transport)
	}

	client := mcp.NewClient(cfg.ID, transport)
	if _, err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	return client, tools, nil
}

// Stop takes a server to Stopped from any state, disposing the live client
// first. Stopping a stopped server is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) (models.ServerStatus, error) {
	h, err := m.lookup(id)
	if err != nil {
		return models.ServerStatus{}, err
	}

	h.transMu.Lock()
	defer h.transMu.Unlock()
	m.stop(h)
	return h.snapshot(), nil
}

// stop performs the stop transition. Callers hold h.transMu.
func (m *Manager) stop(h *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == models.StateStopped {
		return
	}
	wasRunning := h.state == models.StateRunning
	h.disposeClientLocked()
	h.tools = nil
	h.toolCount = 0
	h.failedProbes = 0
	h.setState(models.StateStopped, nil)
	if wasRunning {
		metrics.ServersRunning.Dec()
	}
	m.publish(events.ServerStopped{ServerID: h.id})
	slog.Info("tool server stopped", "server_id", h.id)
}

// Delete removes a server from the handle table, stopping it first if needed.
func (m *Manager) Delete(ctx context.Context, id string) error {
	h, err := m.lookup(id)
	if err != nil {
		return err
	}

	h.transMu.Lock()
	m.stop(h)
	h.transMu.Unlock()

	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()

	m.publish(events.ServerDeleted{ServerID: id})
	return nil
}

// Shutdown stops every non-stopped server.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, st := range m.Snapshot() {
		if st.State != models.StateStopped {
			m.Stop(ctx, st.ID)
		}
	}
}

// Status returns the point-in-time status for one server.
func (m *Manager) Status(id string) (models.ServerStatus, error) {
	h, err := m.lookup(id)
	if err != nil {
		return models.ServerStatus{}, err
	}
	return h.snapshot(), nil
}

// Snapshot returns a point-in-time status of every registered server. No
// lock is held across any of the per-handle reads.
func (m *Manager) Snapshot() []models.ServerStatus {
	m.mu.RLock()
	hs := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	m.mu.RUnlock()

	out := make([]models.ServerStatus, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.snapshot())
	}
	return out
}

// Toolsets returns one toolset per server currently in a runnable state.
func (m *Manager) Toolsets() []ports.Toolset {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ports.Toolset
	for id, h := range m.handles {
		if h.currentState().Runnable() {
			out = append(out, &serverToolset{m: m, serverID: id})
		}
	}
	return out
}

// healthLoop probes one live server until its context is cancelled or the
// server is marked failed. It runs as an independent long-lived goroutine.
func (m *Manager) healthLoop(ctx context.Context, h *handle) {
	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.probe(ctx, h) {
				return
			}
		}
	}
}

// probe runs one health check. It returns false when the loop should stop.
func (m *Manager) probe(ctx context.Context, h *handle) bool {
	client, ok := h.liveClient()
	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	err := client.Ping(probeCtx)
	cancel()

	if err != nil {
		metrics.HealthChecksTotal.WithLabelValues(h.id, "failure").Inc()
		return m.recordProbeFailure(h, err)
	}

	metrics.HealthChecksTotal.WithLabelValues(h.id, "success").Inc()
	m.recordProbeSuccess(ctx, h)
	return true
}

// recordProbeFailure moves Running to Unhealthy, and Unhealthy to Failed once
// the retry budget is exhausted. Returns false when the loop should stop.
func (m *Manager) recordProbeFailure(h *handle, probeErr error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.Runnable() {
		return false
	}

	h.failedProbes++

	if h.state == models.StateRunning {
		h.setState(models.StateUnhealthy, probeErr)
		metrics.ServersRunning.Dec()
		m.publish(events.ServerUnhealthy{ServerID: h.id, Error: probeErr.Error()})
		slog.Warn("tool server unhealthy", "server_id", h.id, "error", probeErr)
		return true
	}

	if h.failedProbes >= m.opts.MaxFailedProbes {
		h.disposeClientLocked()
		h.tools = nil
		h.toolCount = 0
		h.setState(models.StateFailed, probeErr)
		m.publish(events.ServerStartFailed{ServerID: h.id, Error: probeErr.Error()})
		slog.Error("tool server failed after repeated probes", "server_id", h.id, "error", probeErr)
		return false
	}
	return true
}

// recordProbeSuccess recovers an unhealthy server. The catalog is re-fetched
// without re-running initialize; the session survives the incident.
func (m *Manager) recordProbeSuccess(ctx context.Context, h *handle) {
	h.mu.Lock()
	h.failedProbes = 0
	if h.state != models.StateUnhealthy {
		h.mu.Unlock()
		return
	}
	client := h.client
	h.mu.Unlock()

	var tools []models.ToolDefinition
	if client != nil {
		listCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		fetched, err := client.ListTools(listCtx)
		cancel()
		if err != nil {
			slog.Warn("catalog refresh after recovery failed, keeping cached tools", "server_id", h.id, "error", err)
		} else {
			tools = fetched
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != models.StateUnhealthy {
		return
	}
	if tools != nil {
		h.tools = tools
		h.toolCount = len(tools)
	}
	h.setState(models.StateRunning, nil)
	metrics.ServersRunning.Inc()
	m.publish(events.ServerRecovered{ServerID: h.id, ToolCount: h.toolCount})
	slog.Info("tool server recovered", "server_id", h.id, "tools", h.toolCount)
}

// reportTransportError marks a running server unhealthy immediately, without
// waiting for the next timed probe. Called from tool execution.
func (m *Manager) reportTransportError(id string, err error) {
	h, lookupErr := m.lookup(id)
	if lookupErr != nil {
		return
	}
	m.recordProbeFailure(h, err)
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
