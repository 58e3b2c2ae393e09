// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := halodeskerr.New(halodeskerr.CodeTurnFailure, "turn broke")
	assert.Equal(t, halodeskerr.CodeTurnFailure, halodeskerr.CodeOf(err))

	assert.Equal(t, halodeskerr.Code(""), halodeskerr.CodeOf(nil))
	assert.Equal(t, halodeskerr.Code(""), halodeskerr.CodeOf(stderrors.New("plain")))
}

func TestWrapPreservesNil(t *testing.T) {
	assert.NoError(t, halodeskerr.Wrap(nil, halodeskerr.CodeTurnFailure, "ignored"))
	assert.NoError(t, halodeskerr.Wrapf(nil, halodeskerr.CodeTurnFailure, "ignored %d", 1))
	assert.NoError(t, halodeskerr.With(nil))
}

func TestFieldsOf(t *testing.T) {
	err := halodeskerr.New(halodeskerr.CodeToolExecuteFailure, "tool broke",
		halodeskerr.FieldTool("lookup_order"),
		halodeskerr.FieldSessionKey("s-1"),
	)

	fields := halodeskerr.FieldsOf(err)
	require.NotNil(t, fields)
	assert.Equal(t, "lookup_order", fields["tool"])
	assert.Equal(t, "s-1", fields["session_key"])
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"not_found", halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "x"), halodeskerr.IsNotFound},
		{"conflict", halodeskerr.New(halodeskerr.CodeStoreStateUpdateConflict, "x"), halodeskerr.IsConflict},
		{"lock_held", halodeskerr.New(halodeskerr.CodeDraftLockHeld, "x"), halodeskerr.IsConflict},
		{"invalid", halodeskerr.New(halodeskerr.CodeTurnInvalidInput, "x"), halodeskerr.IsInvalidInput},
		{"locked", halodeskerr.New(halodeskerr.CodeTurnSessionLocked, "x"), halodeskerr.IsLocked},
		{"denied", halodeskerr.New(halodeskerr.CodeToolGatingDenied, "x"), halodeskerr.IsDenied},
		{"budget", halodeskerr.New(halodeskerr.CodeTurnToolBudgetExceeded, "x"), halodeskerr.IsBudgetExceeded},
		{"timeout", halodeskerr.New(halodeskerr.CodeTurnToolTimeout, "x"), halodeskerr.IsTimeout},
		{"infra_upstream", halodeskerr.New(halodeskerr.CodeProviderUpstreamFailure, "x"), halodeskerr.IsInfra},
		{"infra_tool", halodeskerr.New(halodeskerr.CodeTurnToolInfraFailure, "x"), halodeskerr.IsInfra},
		{"infra_store", halodeskerr.New(halodeskerr.CodeStoreDatabaseFailure, "x"), halodeskerr.IsInfra},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want(tt.err))
		})
	}
}

func TestInfraExcludesBusinessOutcomes(t *testing.T) {
	assert.False(t, halodeskerr.IsInfra(halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "x")))
	assert.False(t, halodeskerr.IsInfra(halodeskerr.New(halodeskerr.CodeToolGatingDenied, "x")))
	assert.False(t, halodeskerr.IsInfra(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "x"), http.StatusNotFound},
		{halodeskerr.New(halodeskerr.CodeDraftLockHeld, "x"), http.StatusConflict},
		{halodeskerr.New(halodeskerr.CodeServerRequestInvalid, "x"), http.StatusBadRequest},
		{halodeskerr.New(halodeskerr.CodeToolGatingDenied, "x"), http.StatusForbidden},
		{halodeskerr.New(halodeskerr.CodeTurnSessionLocked, "x"), http.StatusTooManyRequests},
		{halodeskerr.New(halodeskerr.CodeProviderUpstreamFailure, "x"), http.StatusBadGateway},
		{halodeskerr.New(halodeskerr.CodeServerInternalFailure, "x"), http.StatusInternalServerError},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, halodeskerr.HTTPStatus(tt.err), "for %v", tt.err)
	}
}
