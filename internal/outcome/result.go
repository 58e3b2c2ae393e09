// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package outcome

import "log/slog"

// Result is the contract every tool invocation returns. Message is always
// non-empty: the constructors below substitute a safe default and log when a
// caller omits it, so no downstream component has to defend against blanks.
type Result struct {
	Outcome Outcome
	// Message is the user-safe text for this result. For terminal outcomes
	// it is the reply sent verbatim; for OK it is a fallback if the model
	// produces nothing.
	Message string
	// Data is the tool payload. Only forwarded to the model when Outcome is
	// OK; all other outcomes surface Message alone.
	Data map[string]any
	// Events are state-mutation events declared by the tool itself, applied
	// through session.Apply after DeriveEvents merges synthesized ones.
	Events []Event
}

const defaultMessage = "Something went wrong while handling your request. Please try again."

// ensureMessage enforces the non-empty Message invariant. Logging instead of
// failing keeps constructors total; a missing message is a tool defect, not
// a reason to drop the turn.
func ensureMessage(o Outcome, msg string) string {
	if msg != "" {
		return msg
	}
	slog.Warn("tool result missing message, substituting default",
		slog.String("outcome", string(o)))
	return defaultMessage
}

// Ok builds a successful result carrying sanitized tool data.
func Ok(msg string, data map[string]any) *Result {
	return &Result{Outcome: OK, Message: ensureMessage(OK, msg), Data: data}
}

// NotFoundResult builds a terminal record-not-found result.
func NotFoundResult(msg string) *Result {
	return &Result{Outcome: NotFound, Message: ensureMessage(NotFound, msg)}
}

// ValidationErrorResult builds a terminal invalid-input result.
func ValidationErrorResult(msg string) *Result {
	return &Result{Outcome: ValidationError, Message: ensureMessage(ValidationError, msg)}
}

// VerificationRequiredResult builds a result demanding identity proof before
// the protected data may be surfaced. askFor names the field to collect
// (defaulted to "name" by the verification state machine when empty).
// anchor is the opaque protected record; it is never forwarded to the model.
func VerificationRequiredResult(msg, askFor string, anchor any) *Result {
	return &Result{
		Outcome: VerificationRequired,
		Message: ensureMessage(VerificationRequired, msg),
		Events: []Event{{
			Kind:   EventVerificationRequired,
			Field:  askFor,
			Anchor: anchor,
		}},
	}
}

// DeniedResult builds a terminal policy-denied result.
func DeniedResult(msg string) *Result {
	return &Result{Outcome: Denied, Message: ensureMessage(Denied, msg)}
}

// InfraErrorResult builds an infrastructure-failure result. This is the only
// outcome the retry wrapper and fail policy treat as an error.
func InfraErrorResult(msg string) *Result {
	return &Result{Outcome: InfraError, Message: ensureMessage(InfraError, msg)}
}
