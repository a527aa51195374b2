package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/herrald/beacon/internal/adapters/mcp"
	"github.com/herrald/beacon/internal/domain/models"
)

// handle is the runtime record for one managed tool server.
//
// transMu serializes lifecycle transitions for this id and is held across
// the I/O a transition performs (connect, catalog fetch). mu guards the
// fields themselves and is only ever held for short critical sections, so
// status reads never wait behind a slow connect. Handles for different ids
// are fully independent.
type handle struct {
	// id never changes after construction and may be read without a lock.
	id string

	transMu sync.Mutex
	mu      sync.Mutex

	cfg       models.ToolServerConfig
	state     models.LifecycleState
	since     time.Time
	lastErr   error
	toolCount int
	tools     []models.ToolDefinition

	// client is live only while the state is Runnable. Replacing it always
	// disposes the previous one first.
	client *mcp.Client

	healthCancel context.CancelFunc
	failedProbes int
}

func newHandle(cfg models.ToolServerConfig) *handle {
	return &handle{
		id:    cfg.ID,
		cfg:   cfg,
		state: models.StateStopped,
		since: time.Now(),
	}
}

// setState records a transition. Callers hold h.mu.
func (h *handle) setState(s models.LifecycleState, err error) {
	h.state = s
	h.since = time.Now()
	h.lastErr = err
}

// disposeClientLocked closes and clears the live client. Callers hold h.mu.
func (h *handle) disposeClientLocked() {
	if h.healthCancel != nil {
		h.healthCancel()
		h.healthCancel = nil
	}
	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
}

// snapshot returns a point-in-time status, safe to hand across goroutines.
func (h *handle) snapshot() models.ServerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

// statusLocked builds the status. Callers hold h.mu.
func (h *handle) statusLocked() models.ServerStatus {
	st := models.ServerStatus{
		ID:        h.cfg.ID,
		Name:      h.cfg.Name,
		State:     h.state,
		ToolCount: h.toolCount,
		Since:     h.since,
	}
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	return st
}

// currentState reads the state without touching the transition lock.
func (h *handle) currentState() models.LifecycleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// liveClient returns the current client if the handle is in a runnable state.
func (h *handle) liveClient() (*mcp.Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Runnable() || h.client == nil {
		return nil, false
	}
	return h.client, true
}

// toolsSnapshot copies the cached catalog.
func (h *handle) toolsSnapshot() []models.ToolDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ToolDefinition(nil), h.tools...)
}
