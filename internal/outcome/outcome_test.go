// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package outcome_test

import (
	"testing"

	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIsTotal(t *testing.T) {
	tests := []struct {
		raw  string
		want outcome.Outcome
	}{
		{"OK", outcome.OK},
		{"ok", outcome.OK},
		{"Success", outcome.OK},
		{"NOT_FOUND", outcome.NotFound},
		{"notfound", outcome.NotFound},
		{"no_record", outcome.NotFound},
		{"VALIDATION_ERROR", outcome.ValidationError},
		{"invalid_input", outcome.ValidationError},
		{"VERIFICATION_REQUIRED", outcome.VerificationRequired},
		{"needs_verification", outcome.VerificationRequired},
		{"DENIED", outcome.Denied},
		{"forbidden", outcome.Denied},
		{"INFRA_ERROR", outcome.InfraError},
		{"system_error", outcome.InfraError},
		{"error", outcome.InfraError},
		{"  ok  ", outcome.OK},
		{"", outcome.Unknown},
		{"garbage", outcome.Unknown},
		{"💥", outcome.Unknown},
		{"OK; DROP TABLE results", outcome.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome.Normalize(tt.raw))
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, o := range []outcome.Outcome{
		outcome.OK, outcome.NotFound, outcome.ValidationError,
		outcome.VerificationRequired, outcome.Denied, outcome.InfraError,
	} {
		assert.True(t, outcome.IsValid(o), "%s should be valid", o)
	}

	assert.False(t, outcome.IsValid(outcome.Unknown))
	assert.False(t, outcome.IsValid(outcome.Outcome("ok")))
	assert.False(t, outcome.IsValid(outcome.Outcome("")))
}

func TestConstructorsEnforceMessage(t *testing.T) {
	tests := []struct {
		name string
		res  *outcome.Result
		want outcome.Outcome
	}{
		{"ok", outcome.Ok("", nil), outcome.OK},
		{"not_found", outcome.NotFoundResult(""), outcome.NotFound},
		{"validation", outcome.ValidationErrorResult(""), outcome.ValidationError},
		{"verification", outcome.VerificationRequiredResult("", "phone_last4", nil), outcome.VerificationRequired},
		{"denied", outcome.DeniedResult(""), outcome.Denied},
		{"infra", outcome.InfraErrorResult(""), outcome.InfraError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Outcome)
			assert.NotEmpty(t, tt.res.Message, "constructors must substitute a default message")
		})
	}
}

func TestVerificationRequiredCarriesEvent(t *testing.T) {
	res := outcome.VerificationRequiredResult("please verify", "phone_last4", map[string]any{"order": "ORD-1"})

	require.Len(t, res.Events, 1)
	assert.Equal(t, outcome.EventVerificationRequired, res.Events[0].Kind)
	assert.Equal(t, "phone_last4", res.Events[0].Field)
	assert.NotNil(t, res.Events[0].Anchor)
}

func TestDeriveEvents(t *testing.T) {
	t.Run("synthesizes record_not_found", func(t *testing.T) {
		events := outcome.DeriveEvents("lookup_order", outcome.NotFoundResult("no such order"))
		require.Len(t, events, 1)
		assert.Equal(t, outcome.EventRecordNotFound, events[0].Kind)
		assert.Equal(t, "lookup_order", events[0].Field)
	})

	t.Run("keeps declared events", func(t *testing.T) {
		res := outcome.VerificationRequiredResult("verify", "name", nil)
		events := outcome.DeriveEvents("lookup_order", res)
		require.Len(t, events, 1)
		assert.Equal(t, outcome.EventVerificationRequired, events[0].Kind)
	})

	t.Run("nil result yields nothing", func(t *testing.T) {
		assert.Nil(t, outcome.DeriveEvents("lookup_order", nil))
	})
}
