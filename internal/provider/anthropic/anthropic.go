// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package anthropic adapts the Anthropic Messages API to the engine's
// Completer interface.
package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/halodesk/halodesk/internal/provider"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "claude-sonnet-4-5"

// Config holds Anthropic adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string // default model when the request leaves it empty
}

// Adapter implements provider.Completer using the Anthropic Messages API.
type Adapter struct {
	client anthropicsdk.Client
	config Config
	health *provider.HealthTracker
}

var _ provider.Completer = (*Adapter)(nil)

// New creates a new Anthropic adapter. Returns an error if the API key is missing.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, hderr.New(hderr.CodeProviderRequestInvalid, "anthropic: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Available(_ context.Context) bool {
	return a.health.IsHealthy()
}

func (a *Adapter) Close() error { return nil }

// Complete performs one model round trip. The SDK stream is consumed in
// full and folded into a single Completion.
func (a *Adapter) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	type toolAccum struct {
		id          string
		name        string
		partialJSON string
	}
	toolBlocks := make(map[int64]*toolAccum)

	var (
		text strings.Builder
		comp provider.Completion
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			cb := event.ContentBlock
			if cb.Type == "tool_use" {
				toolBlocks[event.Index] = &toolAccum{
					id:   cb.ID,
					name: cb.Name,
				}
			}

		case "content_block_delta":
			delta := event.Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				if acc, ok := toolBlocks[event.Index]; ok {
					acc.partialJSON += delta.PartialJSON
				}
			}

		case "content_block_stop":
			if acc, ok := toolBlocks[event.Index]; ok {
				args := acc.partialJSON
				if args == "" {
					args = "{}"
				}
				comp.ToolCalls = append(comp.ToolCalls, provider.ToolCall{
					ID:        acc.id,
					Name:      acc.name,
					Arguments: args,
				})
				delete(toolBlocks, event.Index)
			}

		case "message_delta":
			comp.Usage.OutputTokens = int(event.Usage.OutputTokens)
			if event.Usage.InputTokens > 0 {
				comp.Usage.InputTokens = int(event.Usage.InputTokens)
			}

		case "message_start":
			comp.Usage.InputTokens = int(event.Message.Usage.InputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		a.health.RecordFailure()
		return nil, hderr.Wrap(err, hderr.CodeProviderUpstreamFailure,
			"anthropic: messages stream failed", hderr.FieldProvider(a.Name()))
	}

	a.health.RecordSuccess()
	comp.Text = text.String()
	return &comp, nil
}

// buildParams converts a CompletionRequest into Anthropic SDK MessageNewParams.
func (a *Adapter) buildParams(req provider.CompletionRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}

	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: req.System},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into Anthropic SDK MessageParam slices.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var result []anthropicsdk.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case provider.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.RoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.RoleTool:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case provider.RoleSystem:
			// System messages are handled via the top-level system param,
			// not as individual messages. Skip them here.
			continue
		default:
			return nil, hderr.Errorf(hderr.CodeProviderRequestInvalid,
				"anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// convertTools transforms provider.ToolDefinition slices into Anthropic SDK tool params.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := extractSchema(t.InputSchema)
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}

// extractSchema maps a ToolDefinition.InputSchema (a full JSON Schema object
// with keys like "type", "properties", "required") into the Anthropic SDK's
// ToolInputSchemaParam, which expects Properties and Required as separate fields.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if raw == nil {
		return schema
	}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := raw["required"].([]any); ok {
		strs := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		schema.Required = strs
	}
	return schema
}
