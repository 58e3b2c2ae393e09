// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/halodesk/halodesk/internal/turn"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "execute-turn",
		Method:      http.MethodPost,
		Path:        "/api/v1/turns",
		Summary:     "Execute one conversation turn",
		Tags:        []string{"turns"},
	}, s.handleTurn)

	huma.Register(s.api, huma.Operation{
		OperationID: "generate-draft",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts",
		Summary:     "Generate a reply draft under the per-thread lock",
		Tags:        []string{"drafts"},
	}, s.handleDraft)

	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check with provider availability",
		Tags:        []string{"system"},
	}, s.handleHealth)
}

// --- Request/Response types for huma ---

type turnInput struct {
	Body struct {
		SessionKey   string   `json:"session_key" minLength:"1" doc:"Conversation identity, stable across messages"`
		BusinessID   string   `json:"business_id" minLength:"1" doc:"Tenant identifier"`
		Channel      string   `json:"channel" minLength:"1" doc:"Source channel, e.g. whatsapp or web"`
		MessageID    string   `json:"message_id" minLength:"1" doc:"Channel message identifier, idempotency anchor"`
		Text         string   `json:"text" doc:"Customer message text"`
		Language     string   `json:"language,omitempty" doc:"BCP 47 language hint"`
		Restricted   bool     `json:"restricted,omitempty" doc:"Knowledge-base-only channel"`
		Hints        []string `json:"hints,omitempty" doc:"Restricted-mode topic hints"`
		AutoVerified bool     `json:"auto_verified,omitempty" doc:"Channel identity already trusted"`
	}
}

type turnOutput struct {
	Body struct {
		Reply       string   `json:"reply" doc:"Text to send to the customer"`
		Action      string   `json:"action" doc:"Routing action taken"`
		Outcome     string   `json:"outcome,omitempty" doc:"Last tool outcome"`
		ToolsCalled []string `json:"tools_called,omitempty"`
		Locked      bool     `json:"locked,omitempty" doc:"Session is locked"`
	}
}

type draftInput struct {
	Body struct {
		BusinessID      string `json:"business_id" minLength:"1"`
		ThreadID        string `json:"thread_id" minLength:"1"`
		SourceMessageID string `json:"source_message_id" minLength:"1"`
		Language        string `json:"language,omitempty"`
		Subject         string `json:"subject,omitempty"`
		Body            string `json:"body" minLength:"1" doc:"Message being answered"`
	}
}

type draftOutput struct {
	Body struct {
		Acquired   bool   `json:"acquired"`
		DraftID    string `json:"draft_id,omitempty"`
		Text       string `json:"text,omitempty"`
		Reason     string `json:"reason,omitempty" doc:"GENERATION_IN_PROGRESS or DRAFT_ALREADY_EXISTS"`
		ExistingID string `json:"existing_id,omitempty"`
	}
}

type providerHealth struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type healthOutput struct {
	Body struct {
		Status    string           `json:"status" example:"ok"`
		Providers []providerHealth `json:"providers,omitempty"`
	}
}

// --- Handlers ---

func (s *Server) handleTurn(ctx context.Context, input *turnInput) (*turnOutput, error) {
	out, err := s.services.Orchestrator.Process(ctx, turn.Inbound{
		SessionKey:   input.Body.SessionKey,
		BusinessID:   input.Body.BusinessID,
		Channel:      input.Body.Channel,
		MessageID:    input.Body.MessageID,
		Text:         input.Body.Text,
		Language:     input.Body.Language,
		Restricted:   input.Body.Restricted,
		Hints:        input.Body.Hints,
		AutoVerified: input.Body.AutoVerified,
	})
	if err != nil {
		if hderr.HasCode(err, hderr.CodeTurnInvalidInput) {
			return nil, huma.Error422UnprocessableEntity("invalid turn request", err)
		}
		return nil, huma.Error500InternalServerError("executing turn", err)
	}

	resp := &turnOutput{}
	resp.Body.Reply = out.Reply
	resp.Body.Action = string(out.Action)
	resp.Body.Outcome = string(out.Outcome)
	resp.Body.ToolsCalled = out.ToolsCalled
	resp.Body.Locked = out.Locked
	return resp, nil
}

func (s *Server) handleDraft(ctx context.Context, input *draftInput) (*draftOutput, error) {
	res, err := s.services.Drafts.Generate(ctx, turn.DraftRequest{
		BusinessID:      input.Body.BusinessID,
		ThreadID:        input.Body.ThreadID,
		SourceMessageID: input.Body.SourceMessageID,
		Language:        input.Body.Language,
		Subject:         input.Body.Subject,
		Body:            input.Body.Body,
	})
	if err != nil {
		if hderr.HasCode(err, hderr.CodeTurnInvalidInput) {
			return nil, huma.Error422UnprocessableEntity("invalid draft request", err)
		}
		return nil, huma.Error500InternalServerError("generating draft", err)
	}

	resp := &draftOutput{}
	resp.Body.Acquired = res.Acquired
	resp.Body.DraftID = res.DraftID
	resp.Body.Text = res.Text
	resp.Body.Reason = string(res.Reason)
	resp.Body.ExistingID = res.ExistingID
	return resp, nil
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	resp := &healthOutput{}
	resp.Body.Status = "ok"

	if s.services.Providers != nil {
		for _, name := range s.services.Providers.Adapters() {
			h := providerHealth{Name: name}
			if tracker := s.services.Providers.Tracker(name); tracker != nil {
				h.Available = tracker.Metrics().Available
			}
			resp.Body.Providers = append(resp.Body.Providers, h)
		}
	}
	return resp, nil
}
