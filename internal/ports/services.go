package ports

import (
	"context"

	"github.com/herrald/beacon/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// LLMToolSpec is a tool definition in the shape the LLM API expects
type LLMToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// LLMToolCall represents a tool call requested by the LLM
type LLMToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// TokenUsage is the token accounting reported by the LLM for one request
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMStreamChunk represents a streaming chunk from the LLM
type LLMStreamChunk struct {
	Content   string       `json:"content,omitempty"`
	Reasoning string       `json:"reasoning,omitempty"`
	ToolCall  *LLMToolCall `json:"tool_call,omitempty"`
	Usage     *TokenUsage  `json:"usage,omitempty"`
	Done      bool         `json:"done"`
	Error     error        `json:"error,omitempty"`
}

// LLMService defines the interface for streaming LLM interactions
type LLMService interface {
	ChatStream(ctx context.Context, messages []LLMMessage) (<-chan LLMStreamChunk, error)
	ChatStreamWithTools(ctx context.Context, messages []LLMMessage, tools []LLMToolSpec) (<-chan LLMStreamChunk, error)
}

// Toolset is the agent loop's view of one live tool source: either a running
// tool-server connection or an in-process builtin set. Implementations are
// thin and stateless; Execute fails fast when the backing server is not in a
// runnable state instead of blocking.
type Toolset interface {
	// ServerID identifies the owning server ("builtin" for in-process tools).
	ServerID() string

	// List returns the tool definitions under their registered names.
	List() []models.ToolDefinition

	// Execute runs one tool by registered name. A failed tool run returns a
	// ToolResult with Success=false, not an error; errors are reserved for
	// "could not dispatch" conditions (unknown tool, server unavailable).
	Execute(ctx context.Context, name string, args map[string]any) (*models.ToolResult, error)
}

// ConfigStore is the slice of the external configuration collaborator the
// runtime needs: reading the server set and writing back acquired OAuth tokens.
type ConfigStore interface {
	ToolServers() []models.ToolServerConfig
	SaveOAuthToken(serverID, token string) error
}

// URLOpener hands an authorization URL to the external "open in browser"
// collaborator.
type URLOpener interface {
	OpenURL(url string) error
}

// IDGenerator defines the interface for generating unique IDs
type IDGenerator interface {
	GenerateServerID() string
	GenerateCallID() string
	GenerateTurnID() string
}
