// Package model provides the model registry: tier fallback chains, candidate
// selection with per-step and per-tier overrides, provider availability
// probing, and the transient-failure classification the step failover loop
// relies on. The engine consumes chat models through the uniform Backend
// interface; concrete provider adapters are supplied by the embedding
// application.
package model

import (
	"context"
	"time"
)

// Backend is the uniform chat contract the engine invokes. Implementations
// are provider adapters constructed lazily from a candidate model id.
type Backend interface {
	// Name returns the provider tag this backend belongs to (e.g. "openai").
	Name() string

	// Complete sends a completion request and blocks until the full
	// response is available. Errors should carry an HTTP status where one
	// exists so the failover loop can classify them.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for a chat completion.
type CompletionRequest struct {
	// Messages is the conversation history including the current prompt.
	Messages []Message

	// Model is the model id within the provider (the part after the tag).
	Model string

	// Temperature controls randomness. Nil uses the provider default.
	Temperature *float64

	// MaxTokens limits the response length. Nil uses the provider default.
	MaxTokens *int

	// Tools defines functions the model may call.
	Tools []ToolDef

	// Metadata carries request tracking information (run id, step name).
	Metadata map[string]string
}

// Message represents a single message in a conversation.
type Message struct {
	// Role indicates who sent this message.
	Role MessageRole

	// Content is the text content of the message.
	Content string

	// ToolCalls contains tool invocations made by the assistant.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall represents a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef defines a function the model can invoke.
type ToolDef struct {
	// Name is the function identifier.
	Name string

	// Description explains what this function does.
	Description string

	// InputSchema is a JSON Schema describing the function parameters.
	InputSchema map[string]interface{}
}

// CompletionResponse contains the full response from a completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string

	// ToolCalls contains any tool invocations made by the model.
	ToolCalls []ToolCall

	// FinishReason explains why generation stopped.
	FinishReason FinishReason

	// Usage contains token consumption information.
	Usage TokenUsage

	// Model is the actual model id that handled this request.
	Model string

	// Created is the timestamp when this response was generated.
	Created time.Time
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// TokenUsage tracks token consumption per request.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
