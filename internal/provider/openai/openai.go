// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package openai adapts the OpenAI Chat Completions API to the engine's
// Completer interface.
package openai

import (
	"context"
	"encoding/json"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/halodesk/halodesk/internal/provider"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gpt-4.1-mini"

// Config holds OpenAI adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string // default model when the request leaves it empty
}

// Adapter implements provider.Completer using the OpenAI Chat Completions API.
type Adapter struct {
	client openaisdk.Client
	config Config
	health *provider.HealthTracker
}

var _ provider.Completer = (*Adapter)(nil)

// New creates a new OpenAI adapter. Returns an error if the API key is missing.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, hderr.New(hderr.CodeProviderRequestInvalid, "openai: missing api_key in config")
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
		client: openaisdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

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

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

	type toolAccum struct {
		id          string
		name        string
		partialArgs string
	}
	toolCalls := make(map[int64]*toolAccum)
	order := make([]int64, 0, 4)

	var (
		text strings.Builder
		comp provider.Completion
	)

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.Content != "" {
				text.WriteString(delta.Content)
			}

			for _, tc := range delta.ToolCalls {
				acc, ok := toolCalls[tc.Index]
				if !ok {
					acc = &toolAccum{}
					toolCalls[tc.Index] = acc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.partialArgs += tc.Function.Arguments
				}
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			comp.Usage.InputTokens = int(chunk.Usage.PromptTokens)
			comp.Usage.OutputTokens = int(chunk.Usage.CompletionTokens)
		}
	}

	if err := stream.Err(); err != nil {
		a.health.RecordFailure()
		return nil, hderr.Wrap(err, hderr.CodeProviderUpstreamFailure,
			"openai: chat completion stream failed", hderr.FieldProvider(a.Name()))
	}

	for _, idx := range order {
		acc := toolCalls[idx]
		if !json.Valid([]byte(acc.partialArgs)) {
			acc.partialArgs = "{}"
		}
		comp.ToolCalls = append(comp.ToolCalls, provider.ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.partialArgs,
		})
	}

	a.health.RecordSuccess()
	comp.Text = text.String()
	return &comp, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK ChatCompletionNewParams.
func (a *Adapter) buildParams(req provider.CompletionRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.System)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into OpenAI SDK message
// param slices. The system prompt is prepended as a system message if present.
func convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.RoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.RoleAssistant:
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		case provider.RoleTool:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case provider.RoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, hderr.Errorf(hderr.CodeProviderRequestInvalid,
				"openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// convertTools transforms provider.ToolDefinition slices into OpenAI SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}
