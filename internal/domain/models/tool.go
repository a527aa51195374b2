package models

import (
	"fmt"
	"time"
)

// ToolDefinition describes one callable tool as advertised by a tool server.
// Name is unique within its server; InputSchema is provider-defined JSON schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// QualifiedToolName is the name a server tool is registered under for the
// model. Namespacing by server id makes cross-server collisions impossible.
func QualifiedToolName(serverID, toolName string) string {
	return fmt.Sprintf("mcp_%s_%s", serverID, toolName)
}

// ToolCall is one requested invocation. It lives only for the duration of the
// execution and is never persisted.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
}

// ToolResult is produced exactly once per ToolCall.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	Success  bool          `json:"success"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Text returns what the model should see for this result.
func (r *ToolResult) Text() string {
	if r.Success {
		return r.Content
	}
	return r.Error
}
