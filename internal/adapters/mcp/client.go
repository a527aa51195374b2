package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "beacon"
	clientVersion   = "0.1.0"

	// requestTimeout bounds a request/response exchange only when the caller
	// supplies no deadline of its own.
	requestTimeout = 30 * time.Second
)

// Client speaks the tool-server protocol over a Transport, correlating
// requests to responses by id.
type Client struct {
	name         string
	transport    Transport
	mu           sync.RWMutex
	nextID       atomic.Int64
	pendingCalls map[int64]chan *JSONRPCResponse
	initialized  bool
	serverInfo   *ServerInfo
	capabilities *ServerCapabilities
	knownTools   map[string]struct{}
	closeCh      chan struct{}
	closeOnce    sync.Once
}

func NewClient(name string, transport Transport) *Client {
	return &Client{
		name:         name,
		transport:    transport,
		pendingCalls: make(map[int64]chan *JSONRPCResponse),
		closeCh:      make(chan struct{}),
	}
}

// Initialize performs the handshake and sends the initialized notification.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    ClientCapabilities{Experimental: map[string]any{}},
		"clientInfo":      ClientInfo{Name: clientName, Version: clientVersion},
	}

	go c.receiveLoop()

	result, err := c.call(ctx, MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal initialize result: %v", domain.ErrProtocolError, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = &initResult.ServerInfo
	c.capabilities = &initResult.Capabilities
	c.mu.Unlock()

	if err := c.notify(ctx, MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	return &initResult.ServerInfo, nil
}

// ListTools fetches the full tool catalog, following pagination cursors. The
// returned names also seed the known-tool set used by CallTool's fast path.
func (c *Client) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: client not initialized", domain.ErrProtocolError)
	}
	c.mu.RUnlock()

	var all []models.ToolDefinition
	known := make(map[string]struct{})
	var cursor *string

	for {
		params := map[string]any{}
		if cursor != nil {
			params["cursor"] = *cursor
		}

		result, err := c.call(ctx, MethodToolsList, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}

		var listResult ToolsListResult
		if err := json.Unmarshal(result, &listResult); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal tools/list result: %v", domain.ErrProtocolError, err)
		}

		for _, t := range listResult.Tools {
			all = append(all, models.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
			known[t.Name] = struct{}{}
		}

		if listResult.NextCursor == nil {
			break
		}
		cursor = listResult.NextCursor
	}

	c.mu.Lock()
	c.knownTools = known
	c.mu.Unlock()

	return all, nil
}

// CallTool invokes one tool. An unknown tool name fails fast without
// touching the transport.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolsCallResult, error) {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: client not initialized", domain.ErrProtocolError)
	}
	if c.knownTools != nil {
		if _, ok := c.knownTools[name]; !ok {
			c.mu.RUnlock()
			return nil, fmt.Errorf("%w: %q is not advertised by server %s", domain.ErrToolNotFound, name, c.name)
		}
	}
	c.mu.RUnlock()

	params := map[string]any{
		"name": name,
	}
	if arguments != nil {
		params["arguments"] = arguments
	}

	result, err := c.call(ctx, MethodToolsCall, params)
	if err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}

	var callResult ToolsCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal tools/call result: %v", domain.ErrProtocolError, err)
	}

	return &callResult, nil
}

// Ping probes the server. Used by the lifecycle manager's health checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, map[string]any{})
	return err
}

func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) Capabilities() *ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Close tears down pending calls and the underlying transport.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.mu.Lock()
		for _, ch := range c.pendingCalls {
			close(ch)
		}
		c.pendingCalls = make(map[int64]chan *JSONRPCResponse)
		c.initialized = false
		c.mu.Unlock()

		if c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}

// call sends one request and blocks for its correlated response. The caller's
// context bounds the wait; a deadline-less context gets the default bound so a
// silent server cannot park the goroutine forever.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	req := NewJSONRPCRequest(id, method, params)

	respCh := make(chan *JSONRPCResponse, 1)
	c.mu.Lock()
	c.pendingCalls[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", domain.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w: client closed while awaiting response", domain.ErrConnectFailed)
		}
		if resp.Error != nil {
			if resp.Error.Code == MethodNotFound {
				return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, resp.Error.Message)
			}
			return nil, fmt.Errorf("%w: JSON-RPC error %d: %s", domain.ErrToolExecutionFailed, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params map[string]any) error {
	return c.transport.Send(ctx, NewJSONRPCNotification(method, params))
}

func (c *Client) receiveLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case msg, ok := <-c.transport.Receive():
			if !ok {
				return
			}
			if msg.Error != nil {
				c.failPending(msg.Error)
				continue
			}
			c.handleMessage(msg.Data)
		}
	}
}

// failPending unblocks every waiter with a synthetic error response so a dead
// transport surfaces as a call failure instead of a timeout.
func (c *Client) failPending(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.pendingCalls {
		select {
		case ch <- NewJSONRPCErrorResponse(nil, InternalError, err.Error(), nil):
		default:
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
		c.handleResponse(&resp)
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(data, &notif); err == nil && notif.Method != "" {
		c.handleNotification(&notif)
		return
	}

	slog.Warn("tool server sent unparseable message", "server", c.name, "data", truncate(string(data), 200))
}

func (c *Client) handleResponse(resp *JSONRPCResponse) {
	// JSON numbers decode as float64; ids are issued as int64
	var id int64
	switch v := resp.ID.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	default:
		slog.Warn("discarding response with non-numeric id", "server", c.name, "id", resp.ID)
		return
	}

	c.mu.RLock()
	ch, exists := c.pendingCalls[id]
	c.mu.RUnlock()

	if !exists {
		slog.Warn("discarding response with unknown id", "server", c.name, "id", id)
		return
	}

	select {
	case ch <- resp:
	default:
	}
}

func (c *Client) handleNotification(notif *JSONRPCNotification) {
	slog.Debug("tool server notification", "server", c.name, "method", notif.Method)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
