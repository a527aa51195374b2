package models

import (
	"fmt"
	"time"
)

// TransportKind selects how a tool server is reached. The set is closed:
// a spawned local process speaking NDJSON, or an HTTP endpoint.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// AuthMode describes the credential material a tool server expects.
type AuthMode string

const (
	AuthNone      AuthMode = "none"
	AuthStaticKey AuthMode = "static_key"
	AuthKeyFile   AuthMode = "key_file"
	AuthOAuth     AuthMode = "oauth"
)

// Variable is a declared environment/config variable for a tool server.
type Variable struct {
	Value    string `json:"value"`
	Required bool   `json:"required"`
}

// ToolServerConfig is the configuration for one tool server. It is owned by
// the external configuration collaborator; the runtime treats it as read-only
// except for writing back an acquired OAuth token.
type ToolServerConfig struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Transport TransportKind `json:"transport"`

	// Stdio transport
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`

	// HTTP transport
	URL string `json:"url,omitempty"`

	AuthMode   AuthMode            `json:"auth_mode"`
	KeyFile    string              `json:"key_file,omitempty"`
	OAuthToken string              `json:"oauth_token,omitempty"`
	Variables  map[string]Variable `json:"variables,omitempty"`

	Enabled bool `json:"enabled"`
}

// Validate checks that the config names a usable transport.
func (c *ToolServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("tool server config has no id")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("tool server %s: stdio transport requires a command", c.ID)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("tool server %s: http transport requires a url", c.ID)
		}
	default:
		return fmt.Errorf("tool server %s: unsupported transport %q", c.ID, c.Transport)
	}
	return nil
}

// LifecycleState is the health/lifecycle state of a managed tool server.
type LifecycleState string

const (
	StateStopped    LifecycleState = "stopped"
	StateStarting   LifecycleState = "starting"
	StateRestarting LifecycleState = "restarting"
	StateRunning    LifecycleState = "running"
	StateUnhealthy  LifecycleState = "unhealthy"
	StateFailed     LifecycleState = "failed"
)

// Runnable reports whether a live protocol client may exist in this state.
func (s LifecycleState) Runnable() bool {
	return s == StateRunning || s == StateUnhealthy
}

// Terminal reports whether the state ends the current session. Both terminal
// states are re-enterable via an explicit start.
func (s LifecycleState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ServerStatus is a point-in-time snapshot of a managed server, safe to hand
// across goroutines.
type ServerStatus struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     LifecycleState `json:"state"`
	ToolCount int            `json:"tool_count"`
	LastError string         `json:"last_error,omitempty"`
	Since     time.Time      `json:"since"`
}
