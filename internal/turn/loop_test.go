// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/store"
	"github.com/halodesk/halodesk/internal/tools"
)

// scriptedCompleter returns one scripted step per Complete call, recording
// every request for inspection.
type scriptedCompleter struct {
	steps    []scriptedStep
	requests []provider.CompletionRequest
}

type scriptedStep struct {
	comp *provider.Completion
	err  error
}

func (c *scriptedCompleter) Complete(_ context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i >= len(c.steps) {
		// Out of script: behave like a model that just answers.
		return &provider.Completion{Text: "done"}, nil
	}
	step := c.steps[i]
	if step.err != nil {
		return nil, step.err
	}
	return step.comp, nil
}

func (c *scriptedCompleter) calls() int { return len(c.requests) }

var assertAnError = errors.New("upstream exploded")

func loopTurn(sessionKey string) tools.TurnContext {
	return tools.TurnContext{
		State:      store.NewState(sessionKey, "biz-1", "whatsapp"),
		BusinessID: "biz-1",
		Channel:    "whatsapp",
		MessageID:  "msg-1",
		Language:   "en",
	}
}

func newLoopFixture(t *testing.T, completer Completer, reg *tools.Registry) *Loop {
	t.Helper()
	d, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: reg,
		Guard:    guard.New(guard.Config{}),
	})
	require.NoError(t, err)
	l, err := NewLoop(completer, d, catalog.NewDefaultCatalog(), nil, nil)
	require.NoError(t, err)
	return l
}

func registerStatic(reg *tools.Registry, name string, res *outcome.Result) {
	reg.Register(name, tools.ExecutorFunc(func(context.Context, string, tools.TurnContext) (*outcome.Result, error) {
		return res, nil
	}), provider.ToolDefinition{Name: name}, false)
}

func TestLoop_ToolThenAnswer(t *testing.T) {
	reg := tools.NewRegistry()
	registerStatic(reg, "order_status", outcome.Ok("order shipped", map[string]any{"status": "shipped"}))

	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: `{"order_id":"ORD-1"}`}}}},
		{comp: &provider.Completion{Text: "Your order has shipped."}},
	}}

	l := newLoopFixture(t, sc, reg)
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "Your order has shipped.", res.Reply)
	assert.Equal(t, []string{"order_status"}, res.ToolsCalled)
	assert.Equal(t, outcome.OK, res.LastOutcome)
	assert.False(t, res.Terminal)
	assert.Equal(t, 2, sc.calls())
}

func TestLoop_TerminalShortCircuit(t *testing.T) {
	reg := tools.NewRegistry()
	registerStatic(reg, "order_status", outcome.NotFoundResult("We couldn't find a matching order."))

	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: "{}"}}}},
	}}

	l := newLoopFixture(t, sc, reg)
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.True(t, res.Terminal)
	assert.Equal(t, "We couldn't find a matching order.", res.Reply)
	assert.Equal(t, []string{"order_status"}, res.ToolsCalled)
	assert.Equal(t, 1, sc.calls(), "terminal result must never go back to the model")
}

func TestLoop_SanitizesFunctionResponses(t *testing.T) {
	reg := tools.NewRegistry()
	registerStatic(reg, "order_status", outcome.VerificationRequiredResult(
		"Please verify your identity first.", "phone_last4",
		map[string]any{"customer_name": "Ahmet Yilmaz", "order_total": "149.90"},
	))

	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: "{}"}}}},
		{comp: &provider.Completion{Text: "Could you confirm the last 4 digits of your phone?"}},
	}}

	l := newLoopFixture(t, sc, reg)
	_, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	require.Equal(t, 2, sc.calls())
	second := sc.requests[1]
	var toolMsg provider.Message
	for _, m := range second.Messages {
		if m.Role == provider.RoleTool {
			toolMsg = m
		}
	}
	require.NotEmpty(t, toolMsg.Content)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &payload))
	assert.Equal(t, "Please verify your identity first.", payload["message"])
	_, hasData := payload["data"]
	assert.False(t, hasData, "non-OK outcomes must expose the message only")
	assert.NotContains(t, toolMsg.Content, "Ahmet Yilmaz")
	assert.NotContains(t, toolMsg.Content, "VERIFICATION_REQUIRED")
}

func TestLoop_OKDataIsForwarded(t *testing.T) {
	reg := tools.NewRegistry()
	registerStatic(reg, "order_status", outcome.Ok("found it", map[string]any{"status": "shipped"}))

	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: "{}"}}}},
		{comp: &provider.Completion{Text: "It shipped."}},
	}}

	l := newLoopFixture(t, sc, reg)
	_, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.Contains(t, sc.requests[1].Messages[len(sc.requests[1].Messages)-1].Content, "shipped")
}

func TestLoop_BoundedIterations(t *testing.T) {
	reg := tools.NewRegistry()
	registerStatic(reg, "order_status", outcome.Ok("ok", nil))

	// A pathological model that requests a tool on every round trip.
	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: "{}"}}}},
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "order_status", Arguments: "{}"}}}},
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c3", Name: "order_status", Arguments: "{}"}}}},
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c4", Name: "order_status", Arguments: "{}"}}}},
	}}

	l := newLoopFixture(t, sc, reg)
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, MaxToolIterations, sc.calls())
	assert.Len(t, res.ToolsCalled, MaxToolIterations)
	assert.NotEmpty(t, res.Reply, "the loop must synthesize a reply even at the bound")
}

func TestLoop_CompletionFailureServesFallback(t *testing.T) {
	sc := &scriptedCompleter{steps: []scriptedStep{
		{err: assertAnError},
	}}

	l := newLoopFixture(t, sc, tools.NewRegistry())
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.True(t, res.InfraFallback)
	assert.NotEmpty(t, res.Reply)
	assert.NotContains(t, res.Reply, "exploded", "raw errors never reach the user")
}

func TestLoop_ToolInfraFailureServesFallback(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register("order_status", tools.ExecutorFunc(func(context.Context, string, tools.TurnContext) (*outcome.Result, error) {
		return nil, assertAnError
	}), provider.ToolDefinition{Name: "order_status"}, false)

	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "order_status", Arguments: "{}"}}}},
	}}

	l := newLoopFixture(t, sc, reg)
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)

	assert.True(t, res.InfraFallback)
	assert.Equal(t, outcome.InfraError, res.LastOutcome)
	assert.Equal(t, 1, sc.calls(), "infra failures bypass the model")
	assert.NotEmpty(t, res.Reply)
}

func TestLoop_EmptyEverythingStillReplies(t *testing.T) {
	sc := &scriptedCompleter{steps: []scriptedStep{
		{comp: &provider.Completion{}},
	}}

	l := newLoopFixture(t, sc, tools.NewRegistry())
	res, err := l.Run(context.Background(), LoopRequest{Turn: loopTurn("s1"), Language: "en"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
}
