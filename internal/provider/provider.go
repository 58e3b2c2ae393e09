// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package provider defines the model-provider abstraction used by the turn
// engine: a Completer produces a single assistant turn (text and/or tool
// calls), and a Classifier labels a customer message with an intent.
package provider

import (
	"context"
)

// Message roles understood by all provider adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in the conversation history sent to a model.
// Tool messages carry the originating call's ID so the provider can pair
// the result with the request.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a model-requested function invocation. Arguments is the raw
// JSON argument object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool advertised to the model.
// InputSchema is a JSON Schema object ("type", "properties", "required").
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage is the token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionRequest is a single non-streaming completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Completion is the model's reply: assistant text, zero or more tool calls,
// and token usage. Text may be empty when the model only requests tools.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Completer is implemented by model adapters (Anthropic, OpenAI).
type Completer interface {
	// Name returns the adapter's stable identifier ("anthropic", "openai").
	Name() string

	// Available reports whether the adapter is currently usable.
	Available(ctx context.Context) bool

	// Complete performs one model round trip and returns the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	Close() error
}

// Classification is the result of labelling one customer message.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"topic,omitempty"`
}

// Classifier labels a customer message with an intent. Implementations must
// fail open: on any upstream problem they return a neutral classification
// rather than an error, so routing never blocks on the classifier.
type Classifier interface {
	Classify(ctx context.Context, text string, history []Message, language string) (*Classification, error)
}

// NeutralClassification is the fail-open default returned when the
// classifier cannot produce a verdict.
func NeutralClassification() *Classification {
	return &Classification{Intent: "unknown", Confidence: 0}
}
