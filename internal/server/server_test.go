// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/routing"
	"github.com/halodesk/halodesk/internal/server"
	"github.com/halodesk/halodesk/internal/session"
	"github.com/halodesk/halodesk/internal/store"
	"github.com/halodesk/halodesk/internal/tools"
	"github.com/halodesk/halodesk/internal/turn"
)

// cannedCompleter answers every completion with fixed text and no tool
// calls.
type cannedCompleter struct {
	text string
}

func (c *cannedCompleter) Complete(_ context.Context, _ provider.CompletionRequest) (*provider.Completion, error) {
	return &provider.Completion{Text: c.text}, nil
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	g := guard.New(guard.Config{})
	engine, err := routing.NewEngine(g, nil, routing.DefaultConfig(), nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: registry,
		Guard:    g,
	})
	require.NoError(t, err)

	cat := catalog.NewDefaultCatalog()
	completer := &cannedCompleter{text: "Happy to help with that."}
	loop, err := turn.NewLoop(completer, dispatcher, cat, nil, nil)
	require.NoError(t, err)

	orch, err := turn.NewOrchestrator(turn.OrchestratorConfig{
		Sessions: session.NewManager(store.NewMemoryStateStore()),
		Engine:   engine,
		Loop:     loop,
		Registry: registry,
		Catalog:  cat,
	})
	require.NoError(t, err)

	drafts, err := turn.NewDraftService(store.NewMemoryDraftLockStore(), completer, nil)
	require.NoError(t, err)

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, &server.Services{
		Orchestrator: orch,
		Drafts:       drafts,
		Metrics:      metrics.New(),
	})
	require.NoError(t, err)
	return srv
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_ExecuteTurn(t *testing.T) {
	srv := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/v1/turns", map[string]any{
		"session_key": "biz-1:whatsapp:905551112233",
		"business_id": "biz-1",
		"channel":     "whatsapp",
		"message_id":  "wamid-1",
		"text":        "What sizes does the blue jacket come in?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Reply  string `json:"reply"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Happy to help with that.", out.Reply)
	assert.NotEmpty(t, out.Action)
}

func TestServer_TurnValidation(t *testing.T) {
	srv := newTestServer(t)

	// Missing required keys is rejected before the engine runs.
	rec := postJSON(t, srv.Handler(), "/api/v1/turns", map[string]any{
		"text": "hello",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_GenerateDraft(t *testing.T) {
	srv := newTestServer(t)

	body := map[string]any{
		"business_id":       "biz-1",
		"thread_id":         "thread-9",
		"source_message_id": "msg-4",
		"subject":           "Late delivery",
		"body":              "My order is a week late.",
	}

	rec := postJSON(t, srv.Handler(), "/api/v1/drafts", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first struct {
		Acquired bool   `json:"acquired"`
		DraftID  string `json:"draft_id"`
		Text     string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Acquired)
	assert.NotEmpty(t, first.DraftID)
	assert.Equal(t, "Happy to help with that.", first.Text)

	// Replay of the same source message reports the existing draft.
	rec = postJSON(t, srv.Handler(), "/api/v1/drafts", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var second struct {
		Acquired   bool   `json:"acquired"`
		Reason     string `json:"reason"`
		ExistingID string `json:"existing_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Acquired)
	assert.Equal(t, string(store.DraftReasonAlreadyExists), second.Reason)
	assert.Equal(t, first.DraftID, second.ExistingID)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status"`)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RequiresServices(t *testing.T) {
	_, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, nil)
	require.Error(t, err)

	_, err = server.New(server.Config{}, &server.Services{})
	require.Error(t, err)
}
