// Package llm provides a unified interface for LLM providers.
package llm

import (
	"context"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    Role
	Content string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request represents a completion request to the LLM.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response represents the LLM response.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string // model reported by the provider, if any
	Duration     time.Duration
}

// Provider is the core abstraction over LLM backends.
type Provider interface {
	// Complete sends a single request and returns the reply.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name returns the provider identifier.
	Name() string

	// Model returns the configured model name.
	Model() string
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string // For OpenRouter, Ollama or custom endpoints
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxRetries: 2,
		Timeout:    120 * time.Second,
	}
}

// defaultMaxTokens applies when a request leaves MaxTokens unset.
const defaultMaxTokens = 4096
