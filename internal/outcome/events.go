// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package outcome

// EventKind identifies a typed state-mutation event. Events are the only
// vehicle allowed to mutate verification and anchor state; session.Apply is
// the single consumer.
type EventKind string

const (
	EventVerificationRequired EventKind = "VERIFICATION_REQUIRED"
	EventVerificationPassed   EventKind = "VERIFICATION_PASSED"
	EventVerificationFailed   EventKind = "VERIFICATION_FAILED"
	EventRecordNotFound       EventKind = "RECORD_NOT_FOUND"
	EventPolicyDenied         EventKind = "POLICY_DENIED"
	EventInfraError           EventKind = "INFRA_ERROR"
	EventSessionLocked        EventKind = "SESSION_LOCKED"
	EventSessionUnlocked      EventKind = "SESSION_UNLOCKED"
)

// Event is a typed state transition derived from a tool result.
type Event struct {
	Kind EventKind
	// Field names the identity field to collect for VERIFICATION_REQUIRED.
	Field string
	// Attempts, when positive, overrides the incremented attempt counter on
	// VERIFICATION_FAILED (tools that track attempts server-side).
	Attempts int
	// LockReason carries the guard reason for SESSION_LOCKED events.
	LockReason string
	// Anchor is the opaque protected record for VERIFICATION_REQUIRED.
	// It must never appear in model-visible payloads until verified.
	Anchor any
}

// DeriveEvents concatenates the events a tool declared with events
// synthesized from the outcome itself. A NOT_FOUND outcome always yields a
// RECORD_NOT_FOUND event so the anti-enumeration guard sees every miss, even
// from tools that declare nothing.
func DeriveEvents(toolName string, res *Result) []Event {
	if res == nil {
		return nil
	}

	events := make([]Event, 0, len(res.Events)+1)
	events = append(events, res.Events...)

	if res.Outcome == NotFound {
		events = append(events, Event{Kind: EventRecordNotFound, Field: toolName})
	}

	return events
}
