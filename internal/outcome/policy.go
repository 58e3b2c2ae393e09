// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package outcome

// Policy functions below are the single source of truth for how the
// tool-calling loop reacts to an outcome. They are pure and exhaustively
// unit-tested as truth tables; call sites must not re-derive these decisions
// inline.

// ShouldAskVerification reports whether the loop must pivot the turn into
// collecting an identity proof.
func ShouldAskVerification(o Outcome) bool {
	return o == VerificationRequired
}

// ShouldTerminate reports whether the loop must stop immediately and respond
// with the result's message, without forwarding the result back to the
// model. Negative business results are answered with pre-approved text so
// the model cannot fabricate explanations for them.
func ShouldTerminate(o Outcome) bool {
	switch o {
	case NotFound, ValidationError, Denied:
		return true
	default:
		return false
	}
}

// ShouldBypassLeakFilter reports whether the result's message is already a
// safe, pre-approved template and may skip the post-hoc leak filter.
func ShouldBypassLeakFilter(o Outcome) bool {
	switch o {
	case NotFound, ValidationError, VerificationRequired, Denied, InfraError:
		return true
	default:
		return false
	}
}

// ShouldRetry reports whether a failed attempt may be retried. Only
// infrastructure errors qualify; business outcomes are final on first
// delivery.
func ShouldRetry(o Outcome) bool {
	return o == InfraError
}

// IsFailure reports whether the outcome counts as a failure for alerting.
// Business outcomes are expected traffic, not failures.
func IsFailure(o Outcome) bool {
	return o == InfraError
}
