// Package builtin provides tools that ship with the runtime itself and need
// no external server process. They join turns through the same Toolset port
// as remote tools, under the reserved server id "builtin".
package builtin

import (
	"context"
	"fmt"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
	"github.com/herrald/beacon/internal/ports"
)

// ServerID is the pseudo server id built-in tools are grouped under.
const ServerID = "builtin"

// NativeTool is one locally-implemented tool.
type NativeTool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Toolset exposes the native tools through the standard toolset port.
// Built-in tool names carry no server prefix.
type Toolset struct {
	tools map[string]NativeTool
	order []NativeTool
	ids   ports.IDGenerator
}

// NewToolset registers the default built-in tools.
func NewToolset(ids ports.IDGenerator) *Toolset {
	ts := &Toolset{tools: make(map[string]NativeTool), ids: ids}
	for _, tool := range []NativeTool{
		newCalculatorTool(),
		newWebSearchTool(),
		newWebReadTool(),
		newWebLinksTool(),
		newWebMetadataTool(),
	} {
		ts.tools[tool.Name()] = tool
		ts.order = append(ts.order, tool)
	}
	return ts
}

func (ts *Toolset) ServerID() string { return ServerID }

func (ts *Toolset) List() []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(ts.order))
	for _, tool := range ts.order {
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}

// Execute runs a native tool. Tool-level problems (bad arguments, fetch
// failures) come back as failed results the model can react to; only an
// unknown name is an error.
func (ts *Toolset) Execute(ctx context.Context, name string, args map[string]any) (*models.ToolResult, error) {
	tool, ok := ts.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}

	callID := ts.ids.GenerateCallID()
	out, err := tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &models.ToolResult{CallID: callID, Success: false, Error: err.Error()}, nil
	}
	return &models.ToolResult{CallID: callID, Success: true, Content: out}, nil
}
