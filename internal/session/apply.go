// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package session owns the per-conversation state machine. Apply is the only
// function in the codebase permitted to write State.Verification,
// State.Anchor, and State.LastNotFound; everything else requests a
// transition by emitting an outcome event. Centralizing the writes keeps
// the eight-plus call sites that need verification transitions from
// diverging.
package session

import (
	"log/slog"
	"time"

	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/store"
)

// defaultPendingField is used when a VERIFICATION_REQUIRED event names no
// field to collect.
const defaultPendingField = "name"

// Apply folds outcome events into the session state. Unknown event kinds
// are logged and skipped so a newer tool cannot corrupt an older engine.
func Apply(state *store.State, events []outcome.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case outcome.EventVerificationRequired:
			applyVerificationRequired(state, ev)
		case outcome.EventVerificationPassed:
			applyVerificationPassed(state)
		case outcome.EventVerificationFailed:
			applyVerificationFailed(state, ev)
		case outcome.EventRecordNotFound:
			state.LastNotFound = ev.Field
		case outcome.EventPolicyDenied, outcome.EventInfraError:
			// No state transition; these exist for metrics and audit.
		case outcome.EventSessionLocked, outcome.EventSessionUnlocked:
			// Lock state lives in the guard, not the session record.
		default:
			slog.Warn("skipping unknown outcome event",
				slog.String("kind", string(ev.Kind)),
				slog.String("session_key", state.SessionKey))
		}
	}
}

func applyVerificationRequired(state *store.State, ev outcome.Event) {
	field := ev.Field
	if field == "" {
		field = defaultPendingField
	}

	state.Verification = store.Verification{
		Status:       store.VerificationPending,
		PendingField: field,
		Attempts:     0,
		Anchor:       ev.Anchor,
	}
}

func applyVerificationPassed(state *store.State) {
	// Promote the pending anchor to the session's verified grounding.
	if state.Verification.Anchor != nil {
		state.Anchor = &store.Anchor{
			Truth: state.Verification.Anchor,
			At:    time.Now().UTC(),
		}
	}
	state.Verification = store.Verification{
		Status: store.VerificationVerified,
	}
}

func applyVerificationFailed(state *store.State, ev outcome.Event) {
	if state.Verification.Status != store.VerificationPending {
		// A failure event without a pending challenge is a tool defect.
		slog.Warn("verification failed event outside pending state",
			slog.String("session_key", state.SessionKey),
			slog.String("status", string(state.Verification.Status)))
		return
	}

	if ev.Attempts > 0 {
		state.Verification.Attempts = ev.Attempts
	} else {
		state.Verification.Attempts++
	}
}

// SwitchFlow moves the session onto a new active flow. A pending
// verification belonging to the previous flow is actively cleared so stale
// identity challenges cannot block an unrelated task.
func SwitchFlow(state *store.State, flow string) {
	if state.ActiveFlow != flow && state.Verification.Status == store.VerificationPending {
		state.Verification = store.Verification{Status: store.VerificationNone}
	}

	state.ActiveFlow = flow
	if flow == "" {
		state.FlowStatus = store.FlowStatusIdle
	} else {
		state.FlowStatus = store.FlowStatusInProgress
	}
}

// RememberChatter records a chatter reply variant in the bounded
// anti-repetition memory.
func RememberChatter(state *store.State, messageKey string, variantIndex int) {
	state.Chatter.LastMessageKey = messageKey
	state.Chatter.LastVariantIndex = variantIndex
	state.Chatter.Recent = append(state.Chatter.Recent, store.ChatterSeen{
		MessageKey:   messageKey,
		VariantIndex: variantIndex,
	})
	if len(state.Chatter.Recent) > store.ChatterMemorySize {
		state.Chatter.Recent = state.Chatter.Recent[len(state.Chatter.Recent)-store.ChatterMemorySize:]
	}
}

// RecentVariants returns the variant indexes recently used for messageKey,
// for callers that want the catalog to avoid repeating them.
func RecentVariants(state *store.State, messageKey string) []int {
	var avoid []int
	for _, seen := range state.Chatter.Recent {
		if seen.MessageKey == messageKey {
			avoid = append(avoid, seen.VariantIndex)
		}
	}
	return avoid
}
