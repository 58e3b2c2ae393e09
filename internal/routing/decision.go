// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package routing decides what happens to an inbound message before any
// model round trip: session-lock short-circuit, restricted-mode redirect,
// callback-intent intercept, pure-chatter acknowledgement, and the generic
// flow dispatch that feeds the tool-calling loop.
package routing

import (
	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/store"
)

// Action is the routing verdict for one inbound message.
type Action string

const (
	// ActionSessionLocked short-circuits the turn with the fixed generic
	// lock message. No tools, no model.
	ActionSessionLocked Action = "SESSION_LOCKED"

	// ActionRestrictedRedirect answers a knowledge-base-only channel with
	// a redirect template instead of running account-specific flows.
	ActionRestrictedRedirect Action = "RESTRICTED_REDIRECT"

	// ActionCallbackIntercept routes the message into the callback
	// collection flow, deterministically and without the model.
	ActionCallbackIntercept Action = "CALLBACK_INTERCEPT"

	// ActionAcknowledgeChatter answers a pure greeting/thanks/filler from
	// the catalog. No tools, no model.
	ActionAcknowledgeChatter Action = "ACKNOWLEDGE_CHATTER"

	// ActionRunIntentRouter hands the message to the model for intent
	// detection; a new intent sets the active flow and clears stale
	// verification.
	ActionRunIntentRouter Action = "RUN_INTENT_ROUTER"

	// ActionContinueFlow keeps the active flow running with the new input.
	ActionContinueFlow Action = "CONTINUE_FLOW"

	// ActionProcessSlot feeds the message into slot extraction for the
	// active flow.
	ActionProcessSlot Action = "PROCESS_SLOT"

	// ActionHandleDispute routes complaint/dispute language into the
	// dispute flow.
	ActionHandleDispute Action = "HANDLE_DISPUTE"
)

// ChatterKind distinguishes which catalog family acknowledges chatter.
type ChatterKind string

const (
	ChatterGreeting ChatterKind = "greeting"
	ChatterThanks   ChatterKind = "thanks"
	ChatterFiller   ChatterKind = "filler"
)

// Input carries everything Decide needs for one message. State is read,
// never written; state mutation stays with the orchestrator.
type Input struct {
	State    *store.State
	Text     string
	Language string
	Channel  string

	// Restricted marks a knowledge-base-only channel; Hints are the
	// account-specific phrases that trigger the redirect check.
	Restricted bool
	Hints      []string
}

// CallbackUpdate is the conservative extraction result for a callback
// turn. Empty fields mean "nothing new learned".
type CallbackUpdate struct {
	CustomerName  string
	CustomerPhone string
}

// Decision is the routing verdict plus the annotations downstream stages
// consume.
type Decision struct {
	Action     Action
	MessageKey string      // catalog key for deterministic replies
	Chatter    ChatterKind // set when Action == ActionAcknowledgeChatter

	// Callback holds extracted contact fields when the callback intercept
	// fired.
	Callback CallbackUpdate

	// LockReason is set when Action == ActionSessionLocked. It must never
	// influence the reply text.
	LockReason guard.Reason

	// VerificationPending annotates that the active flow has an unresolved
	// identity check; the model, not the router, decides whether the raw
	// input is the requested proof.
	VerificationPending bool

	// Intent carries the classifier verdict when one was consulted.
	Intent     string
	Confidence float64
}
