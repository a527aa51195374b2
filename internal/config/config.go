// Package config loads Beacon's configuration from a JSON file with
// environment overrides, and acts as the persistent store for tool server
// definitions.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/herrald/beacon/internal/domain/models"
)

// Config holds all configuration for Beacon.
type Config struct {
	Server      ServerConfig              `json:"server"`
	LLM         LLMConfig                 `json:"llm"`
	Agent       AgentConfig               `json:"agent"`
	Servers     []models.ToolServerConfig `json:"tool_servers"`

	mu   sync.Mutex
	path string
}

// ServerConfig holds the management API listen address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// AgentConfig tunes turn execution.
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt"`
}

// DefaultConfig returns the defaults used when no file or environment is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			SystemPrompt: "You are a helpful assistant with access to tools. Use them when they would give a better answer than recall.",
		},
	}
}

// DefaultPath is ~/.beacon/config.json, overridable with BEACON_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("BEACON_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".beacon", "config.json")
}

// Load reads the default config path. A missing file is not an error; the
// defaults plus environment overrides apply.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads configuration from the given path, then applies BEACON_*
// environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	envString("BEACON_SERVER_HOST", &cfg.Server.Host)
	envInt("BEACON_SERVER_PORT", &cfg.Server.Port)

	envString("BEACON_LLM_URL", &cfg.LLM.URL)
	envString("BEACON_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("BEACON_LLM_MODEL", &cfg.LLM.Model)
	envInt("BEACON_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("BEACON_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	envString("BEACON_SYSTEM_PROMPT", &cfg.Agent.SystemPrompt)

	// Extra servers can come in via the environment as a JSON array.
	if raw := os.Getenv("BEACON_TOOL_SERVERS"); raw != "" {
		var extra []models.ToolServerConfig
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("parse BEACON_TOOL_SERVERS: %w", err)
		}
		cfg.Servers = append(cfg.Servers, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and that every tool server entry is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if !isValidURL(c.LLM.URL) {
		errs = append(errs, fmt.Sprintf("llm url %q is not a valid URL", c.LLM.URL))
	}

	seen := make(map[string]bool)
	for i := range c.Servers {
		ts := &c.Servers[i]
		if err := ts.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[ts.ID] {
			errs = append(errs, fmt.Sprintf("duplicate tool server id %q", ts.ID))
		}
		seen[ts.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Save writes the configuration back to the path it was loaded from.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	// Tokens and keys live in here.
	return os.WriteFile(c.path, data, 0o600)
}

// ToolServers returns a copy of the configured tool servers.
func (c *Config) ToolServers() []models.ToolServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ToolServerConfig, len(c.Servers))
	copy(out, c.Servers)
	return out
}

// SaveOAuthToken records an acquired token against a server and persists it.
func (c *Config) SaveOAuthToken(serverID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Servers {
		if c.Servers[i].ID == serverID {
			c.Servers[i].OAuthToken = token
			return c.saveLocked()
		}
	}
	return fmt.Errorf("tool server %q is not in the configuration", serverID)
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// envString loads a string environment variable into the target if set.
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}
