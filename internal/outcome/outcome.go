// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package outcome defines the closed result vocabulary every tool call must
// satisfy, and the policy functions that map a result to loop behavior and
// session state transitions. Every downstream component pattern-matches on
// this vocabulary, so Normalize and IsValid are total functions.
package outcome

import "strings"

// Outcome classifies the result of a tool call. It is distinct from a
// transport-level error: every Outcome except InfraError is a valid business
// result, not an exception.
type Outcome string

const (
	OK                   Outcome = "OK"
	NotFound             Outcome = "NOT_FOUND"
	ValidationError      Outcome = "VALIDATION_ERROR"
	VerificationRequired Outcome = "VERIFICATION_REQUIRED"
	Denied               Outcome = "DENIED"
	InfraError           Outcome = "INFRA_ERROR"

	// Unknown is the stable sentinel Normalize returns for inputs outside
	// the closed set. It never round-trips through IsValid as true.
	Unknown Outcome = "UNKNOWN"
)

// aliases folds legacy and free-form outcome spellings into the closed set.
// Keys are lower-case; Normalize lower-cases before lookup.
var aliases = map[string]Outcome{
	"ok":                    OK,
	"success":               OK,
	"succeeded":             OK,
	"not_found":             NotFound,
	"notfound":              NotFound,
	"missing":               NotFound,
	"no_record":             NotFound,
	"validation_error":      ValidationError,
	"invalid":               ValidationError,
	"invalid_input":         ValidationError,
	"bad_request":           ValidationError,
	"verification_required": VerificationRequired,
	"needs_verification":    VerificationRequired,
	"verify":                VerificationRequired,
	"unverified":            VerificationRequired,
	"denied":                Denied,
	"forbidden":             Denied,
	"policy_denied":         Denied,
	"infra_error":           InfraError,
	"infra":                 InfraError,
	"error":                 InfraError,
	"system_error":          InfraError,
	"internal_error":        InfraError,
	"unavailable":           InfraError,
}

// Normalize maps any string to a member of the closed outcome set, or the
// Unknown sentinel. It is total: it never panics and never returns a value
// outside the set, regardless of input.
func Normalize(raw string) Outcome {
	if o, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return o
	}
	return Unknown
}

// IsValid reports whether o is a member of the closed outcome set.
// Unknown is deliberately excluded.
func IsValid(o Outcome) bool {
	switch o {
	case OK, NotFound, ValidationError, VerificationRequired, Denied, InfraError:
		return true
	default:
		return false
	}
}
