package events

import (
	"time"

	"github.com/herrald/beacon/internal/ports"
)

// Event is a sealed interface over everything the runtime emits: lifecycle
// changes, tool activity, and agent stream output. Events are pure
// notifications; producers never block on a consumer.
// The unexported marker method prevents external implementations.
type Event interface {
	// Kind is a stable string used when serializing events for the UI feed.
	Kind() string
	event()
}

// Lifecycle events, one per transition the lifecycle manager makes.

type ServerStarting struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
}

type ServerStarted struct {
	ServerID  string `json:"server_id" msgpack:"server_id"`
	ToolCount int    `json:"tool_count" msgpack:"tool_count"`
}

type ServerStartFailed struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
	Error    string `json:"error" msgpack:"error"`
}

type ServerStopped struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
}

type ServerUnhealthy struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
	Error    string `json:"error" msgpack:"error"`
}

type ServerRecovered struct {
	ServerID  string `json:"server_id" msgpack:"server_id"`
	ToolCount int    `json:"tool_count" msgpack:"tool_count"`
}

type ServerDeleted struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
}

// Tool events emitted by the lifecycle manager's toolsets.

type ToolCalled struct {
	ServerID string `json:"server_id" msgpack:"server_id"`
	CallID   string `json:"call_id" msgpack:"call_id"`
	Tool     string `json:"tool" msgpack:"tool"`
}

type ToolCompleted struct {
	ServerID string        `json:"server_id" msgpack:"server_id"`
	CallID   string        `json:"call_id" msgpack:"call_id"`
	Tool     string        `json:"tool" msgpack:"tool"`
	Success  bool          `json:"success" msgpack:"success"`
	Duration time.Duration `json:"duration" msgpack:"duration"`
}

// Agent stream events, one ordered sequence per turn.

type TextDelta struct {
	TurnID string `json:"turn_id" msgpack:"turn_id"`
	Delta  string `json:"delta" msgpack:"delta"`
}

type ThinkingDelta struct {
	TurnID string `json:"turn_id" msgpack:"turn_id"`
	Delta  string `json:"delta" msgpack:"delta"`
}

type ToolCallStart struct {
	TurnID string `json:"turn_id" msgpack:"turn_id"`
	CallID string `json:"call_id" msgpack:"call_id"`
	Tool   string `json:"tool" msgpack:"tool"`
}

type ToolCallComplete struct {
	TurnID   string        `json:"turn_id" msgpack:"turn_id"`
	CallID   string        `json:"call_id" msgpack:"call_id"`
	Tool     string        `json:"tool" msgpack:"tool"`
	Success  bool          `json:"success" msgpack:"success"`
	Result   string        `json:"result" msgpack:"result"`
	Duration time.Duration `json:"duration" msgpack:"duration"`
}

type RunComplete struct {
	TurnID string           `json:"turn_id" msgpack:"turn_id"`
	Usage  ports.TokenUsage `json:"usage" msgpack:"usage"`
}

type TurnCancelled struct {
	TurnID      string `json:"turn_id" msgpack:"turn_id"`
	PartialText string `json:"partial_text" msgpack:"partial_text"`
}

type TurnError struct {
	TurnID      string `json:"turn_id" msgpack:"turn_id"`
	Message     string `json:"message" msgpack:"message"`
	Recoverable bool   `json:"recoverable" msgpack:"recoverable"`
}

func (ServerStarting) Kind() string    { return "server.starting" }
func (ServerStarted) Kind() string     { return "server.started" }
func (ServerStartFailed) Kind() string { return "server.start_failed" }
func (ServerStopped) Kind() string     { return "server.stopped" }
func (ServerUnhealthy) Kind() string   { return "server.unhealthy" }
func (ServerRecovered) Kind() string   { return "server.recovered" }
func (ServerDeleted) Kind() string     { return "server.deleted" }
func (ToolCalled) Kind() string        { return "tool.called" }
func (ToolCompleted) Kind() string     { return "tool.completed" }
func (TextDelta) Kind() string         { return "turn.text_delta" }
func (ThinkingDelta) Kind() string     { return "turn.thinking_delta" }
func (ToolCallStart) Kind() string     { return "turn.tool_call_start" }
func (ToolCallComplete) Kind() string  { return "turn.tool_call_complete" }
func (RunComplete) Kind() string       { return "turn.run_complete" }
func (TurnCancelled) Kind() string     { return "turn.cancelled" }
func (TurnError) Kind() string         { return "turn.error" }

func (ServerStarting) event()    {}
func (ServerStarted) event()     {}
func (ServerStartFailed) event() {}
func (ServerStopped) event()     {}
func (ServerUnhealthy) event()   {}
func (ServerRecovered) event()   {}
func (ServerDeleted) event()     {}
func (ToolCalled) event()        {}
func (ToolCompleted) event()     {}
func (TextDelta) event()         {}
func (ThinkingDelta) event()     {}
func (ToolCallStart) event()     {}
func (ToolCallComplete) event()  {}
func (RunComplete) event()       {}
func (TurnCancelled) event()     {}
func (TurnError) event()         {}

// Interface compliance checks.
var (
	_ Event = ServerStarting{}
	_ Event = ServerStarted{}
	_ Event = ServerStartFailed{}
	_ Event = ServerStopped{}
	_ Event = ServerUnhealthy{}
	_ Event = ServerRecovered{}
	_ Event = ServerDeleted{}
	_ Event = ToolCalled{}
	_ Event = ToolCompleted{}
	_ Event = TextDelta{}
	_ Event = ThinkingDelta{}
	_ Event = ToolCallStart{}
	_ Event = ToolCallComplete{}
	_ Event = RunComplete{}
	_ Event = TurnCancelled{}
	_ Event = TurnError{}
)
