package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/herrald/beacon/internal/adapters/mcp"
	"github.com/herrald/beacon/internal/adapters/metrics"
	"github.com/herrald/beacon/internal/adapters/tracing"
	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
	"github.com/herrald/beacon/internal/events"
)

// serverToolset exposes one managed server's catalog to the agent loop.
// Tools are registered under server-qualified names so names can never
// collide across servers. The adapter holds no state of its own; every call
// reads the handle table fresh.
type serverToolset struct {
	m        *Manager
	serverID string
}

func (t *serverToolset) ServerID() string { return t.serverID }

func (t *serverToolset) List() []models.ToolDefinition {
	h, err := t.m.lookup(t.serverID)
	if err != nil {
		return nil
	}

	tools := h.toolsSnapshot()
	out := make([]models.ToolDefinition, 0, len(tools))
	for _, def := range tools {
		def.Name = models.QualifiedToolName(t.serverID, def.Name)
		out = append(out, def)
	}
	return out
}

// Execute runs one tool by its qualified name. The server must be in a
// runnable state; otherwise the call fails immediately instead of blocking.
func (t *serverToolset) Execute(ctx context.Context, name string, args map[string]any) (*models.ToolResult, error) {
	h, err := t.m.lookup(t.serverID)
	if err != nil {
		return nil, err
	}

	client, ok := h.liveClient()
	if !ok {
		return nil, fmt.Errorf("%w: server %s is not running", domain.ErrServerUnavailable, t.serverID)
	}

	rawName := t.unqualify(name)
	callID := t.m.ids.GenerateCallID()

	t.m.publish(events.ToolCalled{ServerID: t.serverID, CallID: callID, Tool: rawName})

	ctx, span := tracing.StartToolSpan(ctx, t.serverID, rawName)
	callCtx, cancel := context.WithTimeout(ctx, t.m.opts.ToolCallTimeout)
	defer cancel()

	start := time.Now()
	wire, err := client.CallTool(callCtx, rawName, args)
	duration := time.Since(start)

	metrics.ToolCallDuration.WithLabelValues(t.serverID).Observe(duration.Seconds())

	if err != nil {
		tracing.RecordToolError(span, err)
		span.End()
		metrics.ToolCallsTotal.WithLabelValues(t.serverID, rawName, "error").Inc()
		t.m.publish(events.ToolCompleted{ServerID: t.serverID, CallID: callID, Tool: rawName, Success: false, Duration: duration})

		if errors.Is(err, domain.ErrToolNotFound) {
			return nil, err
		}
		// A transport-level failure means the server itself is in trouble,
		// not just this call.
		if errors.Is(err, domain.ErrConnectFailed) || errors.Is(err, domain.ErrProtocolError) {
			t.m.reportTransportError(t.serverID, err)
			return nil, fmt.Errorf("%w: %v", domain.ErrServerUnavailable, err)
		}

		// Timeouts and execution errors are a failed result the model can
		// react to, not a dispatch failure.
		return &models.ToolResult{
			CallID:   callID,
			Success:  false,
			Error:    err.Error(),
			Duration: duration,
		}, nil
	}

	result := &models.ToolResult{
		CallID:   callID,
		Success:  !wire.IsError,
		Duration: duration,
	}
	text := flattenContent(wire.Content)
	if wire.IsError {
		result.Error = text
	} else {
		result.Content = text
	}

	status := "success"
	if wire.IsError {
		status = "failure"
	}
	metrics.ToolCallsTotal.WithLabelValues(t.serverID, rawName, status).Inc()
	tracing.EndToolSpan(span, result.Success, len(text))
	t.m.publish(events.ToolCompleted{ServerID: t.serverID, CallID: callID, Tool: rawName, Success: result.Success, Duration: duration})

	return result, nil
}

// unqualify strips this server's name prefix, tolerating already-raw names.
func (t *serverToolset) unqualify(name string) string {
	prefix := models.QualifiedToolName(t.serverID, "")
	return strings.TrimPrefix(name, prefix)
}

func flattenContent(items []mcp.ContentItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.Type == "text" && item.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(item.Text)
		}
	}
	return b.String()
}
