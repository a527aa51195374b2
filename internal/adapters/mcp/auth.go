package mcp

import (
	"fmt"
	"os"
	"strings"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
)

// secretMarkers flag variable names that carry bearer-style credentials.
var secretMarkers = []string{"key", "token", "secret", "password", "pat"}

func isSecretName(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range secretMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ResolveHeaders maps a server's variables to HTTP headers. Variables whose
// name suggests a credential become a bearer Authorization header; everything
// else is passed through as X-<NAME> with the name exactly as declared, since
// underscore and hyphen spellings are distinct header keys to the server. A
// stored OAuth token always wins the Authorization slot. Returns ErrAuthFailed
// when a required variable is empty.
func ResolveHeaders(cfg *models.ToolServerConfig) (map[string]string, error) {
	headers := make(map[string]string)

	for name, v := range cfg.Variables {
		if v.Value == "" {
			if v.Required {
				return nil, fmt.Errorf("%w: required variable %q for server %s is not set", domain.ErrAuthFailed, name, cfg.ID)
			}
			continue
		}
		if isSecretName(name) {
			headers["Authorization"] = "Bearer " + v.Value
		} else {
			headers["X-"+name] = v.Value
		}
	}

	if cfg.AuthMode == models.AuthOAuth && cfg.OAuthToken != "" {
		headers["Authorization"] = "Bearer " + cfg.OAuthToken
	}

	if cfg.AuthMode == models.AuthOAuth && cfg.OAuthToken == "" {
		return nil, fmt.Errorf("%w: server %s requires an OAuth token; run the authorization flow first", domain.ErrAuthFailed, cfg.ID)
	}

	return headers, nil
}

// ResolveEnv maps a server's variables to KEY=VALUE pairs for a stdio
// subprocess. Returns ErrAuthFailed when a required variable is empty.
func ResolveEnv(cfg *models.ToolServerConfig) ([]string, error) {
	var env []string
	for name, v := range cfg.Variables {
		if v.Value == "" {
			if v.Required {
				return nil, fmt.Errorf("%w: required variable %q for server %s is not set", domain.ErrAuthFailed, name, cfg.ID)
			}
			continue
		}
		env = append(env, strings.ToUpper(name)+"="+v.Value)
	}
	return env, nil
}

// LoadKeyFile reads a key file configured for the server and injects its
// trimmed contents as an "api_key" variable, so header and env resolution
// treat it like any other credential.
func LoadKeyFile(cfg *models.ToolServerConfig) error {
	if cfg.AuthMode != models.AuthKeyFile || cfg.KeyFile == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("%w: reading key file %s: %v", domain.ErrAuthFailed, cfg.KeyFile, err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return fmt.Errorf("%w: key file %s is empty", domain.ErrAuthFailed, cfg.KeyFile)
	}

	if cfg.Variables == nil {
		cfg.Variables = make(map[string]models.Variable)
	}
	cfg.Variables["api_key"] = models.Variable{Value: key, Required: true}
	return nil
}
