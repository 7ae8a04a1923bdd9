// Package providers implements the model endpoint client.
package providers

import (
	"context"

	"github.com/nextlevelbuilder/valet/internal/session"
)

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"input_schema"` // JSON-schema-shaped object
}

// ChatRequest is one model call.
type ChatRequest struct {
	System      string
	Messages    []session.Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the assistant turn returned by the endpoint.
type ChatResponse struct {
	Message    session.Message
	StopReason string
	Usage      Usage
}

// Provider is the opaque model endpoint.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
