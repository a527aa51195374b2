package domain

import "errors"

// Common domain errors
var (
	// Transport and protocol errors
	ErrConnectFailed = errors.New("connection to tool server failed")
	ErrProtocolError = errors.New("malformed or unexpected protocol message")
	ErrTimeout       = errors.New("operation timed out")

	// Auth errors
	ErrAuthFailed             = errors.New("missing or rejected credentials")
	ErrOAuthTimeout           = errors.New("oauth flow timed out")
	ErrOAuthMalformedCallback = errors.New("oauth callback carried neither token nor error")

	// Tool errors
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrInvalidToolArgs     = errors.New("invalid tool arguments")

	// Lifecycle errors
	ErrServerUnavailable = errors.New("tool server is not in a runnable state")
	ErrServerNotFound    = errors.New("tool server not found")
	ErrServerDisabled    = errors.New("tool server is disabled")
	ErrServerExists      = errors.New("tool server already registered")

	// LLM errors
	ErrLLMUnavailable   = errors.New("LLM service unavailable")
	ErrLLMRequestFailed = errors.New("LLM request failed")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)
