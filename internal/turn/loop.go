// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package turn is the engine root: the bounded tool-calling loop, the turn
// orchestrator that wires routing, guarding, and persistence around it, and
// the draft-generation service.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/tools"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// MaxToolIterations bounds the loop. Even a pathological model that keeps
// requesting tools terminates after this many completion round trips.
const MaxToolIterations = 3

// Completer is the slice of the provider router the loop needs.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error)
}

// LoopRequest is one bounded tool-calling run.
type LoopRequest struct {
	System   string
	Messages []provider.Message
	Tools    []provider.ToolDefinition
	Turn     tools.TurnContext
	Language string
}

// LoopResult is what a finished run hands back to the orchestrator.
type LoopResult struct {
	// Reply is guaranteed non-empty: model text, else the last tool
	// message, else the generic catalog fallback.
	Reply string

	// ToolsCalled lists exactly the tools attempted, in order, including
	// the one that caused a terminal stop.
	ToolsCalled []string

	// Events are the accumulated state-mutation events from every tool
	// result, ready for session.Apply.
	Events []outcome.Event

	// LastOutcome is the outcome of the final tool call, or Unknown when
	// no tool ran.
	LastOutcome outcome.Outcome

	// Terminal is set when a terminal business outcome stopped the loop.
	// The tool's raw result was not forwarded back to the model.
	Terminal bool

	// InfraFallback is set when an infrastructure failure forced the
	// catalog fallback reply. This is the only flag that should alert.
	InfraFallback bool

	Usage provider.Usage
}

// Loop runs the bounded tool-calling protocol.
type Loop struct {
	completer  Completer
	dispatcher *tools.Dispatcher
	catalog    catalog.Catalog
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewLoop creates a Loop. Completer, dispatcher, and catalog are required.
func NewLoop(completer Completer, dispatcher *tools.Dispatcher, cat catalog.Catalog, m *metrics.Metrics, logger *slog.Logger) (*Loop, error) {
	if completer == nil || dispatcher == nil || cat == nil {
		return nil, hderr.New(hderr.CodeTurnInvalidInput, "loop needs completer, dispatcher, and catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{completer: completer, dispatcher: dispatcher, catalog: cat, metrics: m, logger: logger}, nil
}

// Run drives up to MaxToolIterations completion round trips, executing the
// model's tool requests sequentially in the order requested.
func (l *Loop) Run(ctx context.Context, req LoopRequest) (*LoopResult, error) {
	res := &LoopResult{LastOutcome: outcome.Unknown}
	history := make([]provider.Message, len(req.Messages))
	copy(history, req.Messages)

	var lastModelText, lastToolMessage string

	for iter := 0; iter < MaxToolIterations; iter++ {
		comp, err := l.completer.Complete(ctx, provider.CompletionRequest{
			System:   req.System,
			Messages: history,
			Tools:    req.Tools,
		})
		if err != nil {
			// The model is down. Raw provider errors never reach the
			// user; the turn degrades to the catalog fallback.
			l.logger.Error("completion failed, serving infra fallback", "error", err)
			res.InfraFallback = true
			res.Reply = l.resolveFallback(catalog.KeyInfraFallback, req)
			return res, nil
		}
		res.Usage.InputTokens += comp.Usage.InputTokens
		res.Usage.OutputTokens += comp.Usage.OutputTokens

		if comp.Text != "" {
			lastModelText = comp.Text
		}
		if len(comp.ToolCalls) == 0 {
			break
		}

		history = append(history, provider.Message{Role: provider.RoleAssistant, Content: comp.Text})

		for _, tc := range comp.ToolCalls {
			toolRes, err := l.dispatcher.Execute(ctx, tools.Call{
				Tool:      tc.Name,
				Arguments: tc.Arguments,
				Turn:      req.Turn,
			})
			res.ToolsCalled = append(res.ToolsCalled, tc.Name)

			if err != nil {
				if hderr.HasCode(err, hderr.CodeTurnSessionLocked) {
					// Locked mid-turn. Same fixed generic text as the
					// intercept path; the reason never shapes the reply.
					res.Reply = l.resolveFallback(catalog.KeySessionLocked, req)
					res.Terminal = true
					return res, nil
				}
				// Infra failure after retry: model-bypassing fallback.
				l.logger.Error("tool execution failed, serving infra fallback",
					"tool", tc.Name, "error", err)
				res.Events = append(res.Events, outcome.Event{Kind: outcome.EventInfraError})
				res.LastOutcome = outcome.InfraError
				res.InfraFallback = true
				res.Reply = l.resolveFallback(catalog.KeyInfraFallback, req)
				return res, nil
			}

			res.LastOutcome = toolRes.Outcome
			res.Events = append(res.Events, outcome.DeriveEvents(tc.Name, toolRes)...)
			if toolRes.Message != "" {
				lastToolMessage = toolRes.Message
			}

			if outcome.ShouldTerminate(toolRes.Outcome) {
				// Terminal business outcome: respond with the safe
				// pre-approved message and never show the model the raw
				// result, so it cannot fabricate an explanation for it.
				if l.metrics != nil {
					l.metrics.TerminalShortCircuitsTotal.WithLabelValues(string(toolRes.Outcome)).Inc()
				}
				res.Reply = toolRes.Message
				res.Terminal = true
				return res, nil
			}

			history = append(history, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    sanitizeFunctionResponse(toolRes),
			})
		}
	}

	// Layered non-empty reply guarantee. An empty reply is a defect, never
	// something the user sees.
	switch {
	case lastModelText != "":
		res.Reply = lastModelText
	case lastToolMessage != "":
		res.Reply = lastToolMessage
	default:
		res.Reply = l.resolveFallback(catalog.KeyFallbackGeneric, req)
	}
	return res, nil
}

// sanitizeFunctionResponse builds the payload the model is allowed to see:
// the message always, data only on OK. Outcome flags, events, and
// verification anchors never cross this boundary.
func sanitizeFunctionResponse(res *outcome.Result) string {
	payload := map[string]any{"message": res.Message}
	if res.Outcome == outcome.OK && res.Data != nil {
		payload["data"] = res.Data
	}
	b, err := json.Marshal(payload)
	if err != nil {
		// Data carried something unmarshalable; the message alone is
		// still a valid payload.
		b, _ = json.Marshal(map[string]any{"message": res.Message})
	}
	return string(b)
}

func (l *Loop) resolveFallback(key string, req LoopRequest) string {
	sessionKey := ""
	if req.Turn.State != nil {
		sessionKey = req.Turn.State.SessionKey
	}
	resolved, err := l.catalog.Resolve(key, catalog.Request{
		Language:   req.Language,
		SessionKey: sessionKey,
		Seed:       req.Turn.MessageID,
	})
	if err != nil {
		l.logger.Error("catalog resolution failed for fallback key", "key", key, "error", err)
		return "Something went wrong while handling your request. Please try again."
	}
	return resolved.Text
}
