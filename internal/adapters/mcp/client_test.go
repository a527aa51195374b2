package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/herrald/beacon/internal/domain"
)

// fakeTransport is a scriptable in-memory Transport. Handlers run per method
// and their responses are delivered on the receive channel.
type fakeTransport struct {
	mu        sync.Mutex
	receiveCh chan Message
	handlers  map[string]func(req *JSONRPCRequest) any
	sent      []string
	closed    bool
	sendErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		receiveCh: make(chan Message, 16),
		handlers:  make(map[string]func(req *JSONRPCRequest) any),
	}
}

func (t *fakeTransport) handle(method string, fn func(req *JSONRPCRequest) any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = fn
}

func (t *fakeTransport) Send(ctx context.Context, message any) error {
	t.mu.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return err
	}
	data, err := json.Marshal(message)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, req.Method)
	handler := t.handlers[req.Method]
	t.mu.Unlock()

	if req.ID == nil || handler == nil {
		return nil // notification, or no scripted response
	}

	respData, err := json.Marshal(handler(&req))
	if err != nil {
		return err
	}
	t.receiveCh <- Message{Data: respData}
	return nil
}

func (t *fakeTransport) Receive() <-chan Message { return t.receiveCh }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.receiveCh)
	}
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *fakeTransport) sentMethods() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func initHandler(req *JSONRPCRequest) any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result": InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: "test-server", Version: "1.0"},
		},
	}
}

func toolsListHandler(tools []WireTool, nextCursor *string) func(req *JSONRPCRequest) any {
	return func(req *JSONRPCRequest) any {
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  ToolsListResult{Tools: tools, NextCursor: nextCursor},
		}
	}
}

func initializedClient(t *testing.T, tr *fakeTransport) *Client {
	t.Helper()
	tr.handle(MethodInitialize, initHandler)
	c := NewClient("test", tr)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if info.Name != "test-server" {
		t.Fatalf("server name = %q, want test-server", info.Name)
	}
	return c
}

func TestClientInitialize(t *testing.T) {
	tr := newFakeTransport()
	c := initializedClient(t, tr)

	if !c.IsInitialized() {
		t.Error("client should be initialized")
	}

	methods := tr.sentMethods()
	if len(methods) != 2 || methods[0] != MethodInitialize || methods[1] != MethodInitialized {
		t.Errorf("sent methods = %v, want [initialize, notifications/initialized]", methods)
	}
}

func TestClientListTools(t *testing.T) {
	tr := newFakeTransport()

	cursor := "page2"
	pages := map[string][]WireTool{
		"":      {{Name: "search", Description: "search the web"}},
		"page2": {{Name: "fetch", Description: "fetch a url"}},
	}
	tr.handle(MethodToolsList, func(req *JSONRPCRequest) any {
		key := ""
		if c, ok := req.Params["cursor"].(string); ok {
			key = c
		}
		var next *string
		if key == "" {
			next = &cursor
		}
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  ToolsListResult{Tools: pages[key], NextCursor: next},
		}
	})

	c := initializedClient(t, tr)

	ctx := context.Background()
	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2 (pagination should be followed)", len(tools))
	}
	if tools[0].Name != "search" || tools[1].Name != "fetch" {
		t.Errorf("tools = %v, %v; want search, fetch", tools[0].Name, tools[1].Name)
	}
}

func TestClientCallTool(t *testing.T) {
	tr := newFakeTransport()
	tr.handle(MethodToolsList, toolsListHandler([]WireTool{{Name: "echo"}}, nil))
	tr.handle(MethodToolsCall, func(req *JSONRPCRequest) any {
		args, _ := req.Params["arguments"].(map[string]any)
		text, _ := args["text"].(string)
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": ToolsCallResult{
				Content: []ContentItem{{Type: "text", Text: text}},
			},
		}
	})

	c := initializedClient(t, tr)
	ctx := context.Background()
	if _, err := c.ListTools(ctx); err != nil {
		t.Fatal(err)
	}

	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("CallTool() failed: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("result content = %+v, want one text item 'hello'", result.Content)
	}
}

func TestClientCallToolUnknownName(t *testing.T) {
	tr := newFakeTransport()
	tr.handle(MethodToolsList, toolsListHandler([]WireTool{{Name: "echo"}}, nil))

	c := initializedClient(t, tr)
	ctx := context.Background()
	if _, err := c.ListTools(ctx); err != nil {
		t.Fatal(err)
	}

	before := len(tr.sentMethods())
	_, err := c.CallTool(ctx, "nonexistent", nil)
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("CallTool() error = %v, want ErrToolNotFound", err)
	}
	if after := len(tr.sentMethods()); after != before {
		t.Error("unknown tool call should not reach the transport")
	}
}

func TestClientCallToolServerError(t *testing.T) {
	tr := newFakeTransport()
	tr.handle(MethodToolsList, toolsListHandler([]WireTool{{Name: "broken"}}, nil))
	tr.handle(MethodToolsCall, func(req *JSONRPCRequest) any {
		return NewJSONRPCErrorResponse(req.ID, InternalError, "boom", nil)
	})

	c := initializedClient(t, tr)
	ctx := context.Background()
	if _, err := c.ListTools(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := c.CallTool(ctx, "broken", nil)
	if !errors.Is(err, domain.ErrToolExecutionFailed) {
		t.Errorf("CallTool() error = %v, want ErrToolExecutionFailed", err)
	}
}

func TestClientNotInitialized(t *testing.T) {
	c := NewClient("test", newFakeTransport())
	defer c.Close()

	if _, err := c.ListTools(context.Background()); !errors.Is(err, domain.ErrProtocolError) {
		t.Errorf("ListTools() before initialize: error = %v, want ErrProtocolError", err)
	}
	if _, err := c.CallTool(context.Background(), "x", nil); !errors.Is(err, domain.ErrProtocolError) {
		t.Errorf("CallTool() before initialize: error = %v, want ErrProtocolError", err)
	}
}

func TestClientUnknownIDDiscarded(t *testing.T) {
	tr := newFakeTransport()
	c := initializedClient(t, tr)

	// A response nobody asked for must not disturb subsequent calls.
	tr.receiveCh <- Message{Data: []byte(`{"jsonrpc":"2.0","id":9999,"result":{}}`)}

	tr.handle(MethodPing, func(req *JSONRPCRequest) any {
		return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() after stray response: %v", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	tr := newFakeTransport()
	// no ping handler: the call never gets a response
	c := initializedClient(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Ping(ctx)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("Ping() with expired deadline: error = %v, want ErrTimeout", err)
	}
}

func TestClientTransportFailureUnblocksCalls(t *testing.T) {
	tr := newFakeTransport()
	c := initializedClient(t, tr)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- c.Ping(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	tr.receiveCh <- Message{Error: errors.New("process exited")}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Ping() should fail when the transport reports an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ping() did not unblock after transport failure")
	}
}
