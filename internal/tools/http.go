// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/halodesk/halodesk/internal/outcome"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// HTTPExecutor delegates tool execution to a business backend endpoint.
// The backend receives the model's arguments plus the turn context and
// answers with an outcome envelope; transport failures surface as errors
// so the dispatcher's retry and INFRA_ERROR handling apply.
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor for one tool endpoint. A nil
// client falls back to http.DefaultClient; per-call deadlines come from
// the dispatcher's context.
func NewHTTPExecutor(endpoint string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{endpoint: endpoint, client: client}
}

type toolEnvelope struct {
	Outcome string         `json:"outcome"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type toolInvocation struct {
	Arguments json.RawMessage `json:"arguments"`
	Context   struct {
		BusinessID   string `json:"business_id"`
		Channel      string `json:"channel"`
		MessageID    string `json:"message_id"`
		Language     string `json:"language,omitempty"`
		AutoVerified bool   `json:"auto_verified,omitempty"`
	} `json:"context"`
}

// Execute posts the invocation to the backend and decodes the outcome
// envelope. The returned outcome is raw; the dispatcher normalizes it.
func (e *HTTPExecutor) Execute(ctx context.Context, arguments string, tc TurnContext) (*outcome.Result, error) {
	if arguments == "" || !json.Valid([]byte(arguments)) {
		arguments = "{}"
	}

	var inv toolInvocation
	inv.Arguments = json.RawMessage(arguments)
	inv.Context.BusinessID = tc.BusinessID
	inv.Context.Channel = tc.Channel
	inv.Context.MessageID = tc.MessageID
	inv.Context.Language = tc.Language
	inv.Context.AutoVerified = tc.AutoVerified

	body, err := json.Marshal(inv)
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeTurnToolInfraFailure, "encoding tool invocation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeTurnToolInfraFailure, "building tool request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeTurnToolInfraFailure, "calling tool backend")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error; backends report
		// business failures inside a 200 envelope, so any other status
		// is infrastructure.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, hderr.New(hderr.CodeTurnToolInfraFailure,
			fmt.Sprintf("tool backend returned %d: %s", resp.StatusCode, snippet))
	}

	var env toolEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, hderr.Wrap(err, hderr.CodeTurnToolInfraFailure, "decoding tool envelope")
	}

	return &outcome.Result{
		Outcome: outcome.Outcome(env.Outcome),
		Message: env.Message,
		Data:    env.Data,
	}, nil
}
