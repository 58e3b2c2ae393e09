// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package session_test

import (
	"testing"

	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/session"
	"github.com/halodesk/halodesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState() *store.State {
	return store.NewState("s-1", "biz-1", "whatsapp")
}

func TestVerificationRequiredTransitions(t *testing.T) {
	t.Run("from none", func(t *testing.T) {
		st := newState()
		session.Apply(st, []outcome.Event{{
			Kind:   outcome.EventVerificationRequired,
			Field:  "phone_last4",
			Anchor: map[string]any{"order": "ORD-1"},
		}})

		assert.Equal(t, store.VerificationPending, st.Verification.Status)
		assert.Equal(t, "phone_last4", st.Verification.PendingField)
		assert.Equal(t, 0, st.Verification.Attempts)
		assert.NotNil(t, st.Verification.Anchor)
	})

	t.Run("defaults pending field to name", func(t *testing.T) {
		st := newState()
		session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired}})
		assert.Equal(t, "name", st.Verification.PendingField)
	})

	t.Run("re-requiring from verified resets", func(t *testing.T) {
		st := newState()
		st.Verification.Status = store.VerificationVerified
		session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired, Field: "name"}})
		assert.Equal(t, store.VerificationPending, st.Verification.Status)
	})
}

func TestVerificationPassed(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{
		Kind:   outcome.EventVerificationRequired,
		Field:  "name",
		Anchor: map[string]any{"order": "ORD-1"},
	}})
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationPassed}})

	assert.Equal(t, store.VerificationVerified, st.Verification.Status)
	assert.Empty(t, st.Verification.PendingField)
	assert.Equal(t, 0, st.Verification.Attempts)
	assert.Nil(t, st.Verification.Anchor, "pending anchor cleared on pass")

	require.NotNil(t, st.Anchor, "anchor promoted to verified grounding")
	assert.NotNil(t, st.Anchor.Truth)
	assert.False(t, st.Anchor.At.IsZero())
}

func TestVerificationFailedIncrementsAttempts(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired}})

	for i := 1; i <= 3; i++ {
		session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationFailed}})
		assert.Equal(t, store.VerificationPending, st.Verification.Status)
		assert.Equal(t, i, st.Verification.Attempts)
	}
}

func TestVerificationFailedAdoptsExplicitCount(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired}})
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationFailed, Attempts: 7}})
	assert.Equal(t, 7, st.Verification.Attempts)
}

func TestVerificationFailedOutsidePendingIsIgnored(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationFailed}})
	assert.Equal(t, store.VerificationNone, st.Verification.Status)
	assert.Equal(t, 0, st.Verification.Attempts)
}

func TestOnlyPassedReachesVerified(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired}})

	for _, kind := range []outcome.EventKind{
		outcome.EventVerificationFailed,
		outcome.EventRecordNotFound,
		outcome.EventPolicyDenied,
		outcome.EventInfraError,
		outcome.EventKind("SOMETHING_NEW"),
	} {
		session.Apply(st, []outcome.Event{{Kind: kind}})
		assert.NotEqual(t, store.VerificationVerified, st.Verification.Status, "event %s must not verify", kind)
	}
}

func TestRecordNotFoundSetsLastNotFound(t *testing.T) {
	st := newState()
	session.Apply(st, []outcome.Event{{Kind: outcome.EventRecordNotFound, Field: "lookup_order"}})
	assert.Equal(t, "lookup_order", st.LastNotFound)
}

func TestSwitchFlowClearsStalePendingVerification(t *testing.T) {
	st := newState()
	session.SwitchFlow(st, "billing")
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired, Field: "name"}})
	require.Equal(t, store.VerificationPending, st.Verification.Status)

	// A stock query must not be blocked by billing's stale challenge.
	session.SwitchFlow(st, "stock_lookup")
	assert.Equal(t, store.VerificationNone, st.Verification.Status)
	assert.Equal(t, "stock_lookup", st.ActiveFlow)
	assert.Equal(t, store.FlowStatusInProgress, st.FlowStatus)
}

func TestSwitchFlowSameFlowKeepsVerification(t *testing.T) {
	st := newState()
	session.SwitchFlow(st, "billing")
	session.Apply(st, []outcome.Event{{Kind: outcome.EventVerificationRequired}})

	session.SwitchFlow(st, "billing")
	assert.Equal(t, store.VerificationPending, st.Verification.Status)
}

func TestChatterMemoryIsBounded(t *testing.T) {
	st := newState()
	for i := 0; i < store.ChatterMemorySize+3; i++ {
		session.RememberChatter(st, "chatter.greeting", i)
	}

	assert.Len(t, st.Chatter.Recent, store.ChatterMemorySize)
	assert.Equal(t, store.ChatterMemorySize+2, st.Chatter.LastVariantIndex)

	avoid := session.RecentVariants(st, "chatter.greeting")
	assert.Len(t, avoid, store.ChatterMemorySize)
	assert.Empty(t, session.RecentVariants(st, "chatter.thanks"))
}
