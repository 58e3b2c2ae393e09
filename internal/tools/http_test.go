// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/outcome"
)

func TestHTTPExecutor_DecodesEnvelope(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outcome":"OK","message":"Order shipped.","data":{"carrier":"UPS"}}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	res, err := exec.Execute(context.Background(), `{"order_number":"ORD-1234567"}`, TurnContext{
		BusinessID: "biz-1",
		Channel:    "whatsapp",
		MessageID:  "msg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, outcome.OK, outcome.Normalize(string(res.Outcome)))
	assert.Equal(t, "Order shipped.", res.Message)
	assert.Equal(t, "UPS", res.Data["carrier"])

	args := got["arguments"].(map[string]any)
	assert.Equal(t, "ORD-1234567", args["order_number"])
	tctx := got["context"].(map[string]any)
	assert.Equal(t, "biz-1", tctx["business_id"])
	assert.Equal(t, "msg-1", tctx["message_id"])
}

func TestHTTPExecutor_InvalidArgumentsBecomeEmptyObject(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"outcome":"OK","message":"ok"}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), `{"broken`, TurnContext{BusinessID: "b", MessageID: "m"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got["arguments"])
}

func TestHTTPExecutor_NonOKStatusIsInfraError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), "{}", TurnContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPExecutor_GarbageBodyIsInfraError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), "{}", TurnContext{})
	require.Error(t, err)
}

func TestHTTPExecutor_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(ctx, "{}", TurnContext{})
	require.Error(t, err)
}
