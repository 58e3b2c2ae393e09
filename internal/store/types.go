// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package store

import "time"

// --- Session state types ---

// FlowStatus is the lifecycle state of the active task flow.
type FlowStatus string

const (
	FlowStatusIdle       FlowStatus = "idle"
	FlowStatusInProgress FlowStatus = "in_progress"
	FlowStatusPostResult FlowStatus = "post_result"
	FlowStatusPaused     FlowStatus = "paused"
)

// VerificationStatus is the identity-proof sub-state of a session.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "none"
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
)

// Verification holds the identity-proof state machine fields. Only
// session.Apply may mutate these; call sites that want a transition emit an
// outcome event instead of writing here.
type Verification struct {
	Status       VerificationStatus `json:"status"`
	PendingField string             `json:"pending_field,omitempty"`
	Attempts     int                `json:"attempts,omitempty"`
	// Anchor is the opaque protected record captured when verification was
	// demanded. It must never be included in model-visible payloads while
	// Status != verified.
	Anchor any `json:"anchor,omitempty"`
}

// Anchor is the last verified factual grounding attached to the session.
type Anchor struct {
	Truth any       `json:"truth"`
	At    time.Time `json:"at"`
}

// CallbackRequest tracks a pending human-callback flow and the contact
// details collected so far.
type CallbackRequest struct {
	Pending       bool     `json:"pending"`
	CustomerName  string   `json:"customer_name,omitempty"`
	CustomerPhone string   `json:"customer_phone,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// ChatterSeen records one chatter reply variant already used in this session.
type ChatterSeen struct {
	MessageKey   string `json:"message_key"`
	VariantIndex int    `json:"variant_index"`
}

// ChatterMemory is the anti-repetition memory for chatter replies, bounded
// to the last ChatterMemorySize entries.
type ChatterMemory struct {
	LastMessageKey   string        `json:"last_message_key,omitempty"`
	LastVariantIndex int           `json:"last_variant_index,omitempty"`
	Recent           []ChatterSeen `json:"recent,omitempty"`
}

// ChatterMemorySize bounds ChatterMemory.Recent.
const ChatterMemorySize = 5

// State is the one mutable record per conversation. It is loaded at turn
// start, threaded as an explicit value through the turn pipeline, and
// written back once at turn end with a compare-and-swap on Version.
type State struct {
	SessionKey string
	BusinessID string
	Channel    string

	ActiveFlow   string
	FlowStatus   FlowStatus
	Verification Verification
	Anchor       *Anchor
	// LastNotFound names the most recent tool that returned NOT_FOUND,
	// feeding the anti-enumeration guard across turns.
	LastNotFound string
	Slots        map[string]string
	Callback     CallbackRequest
	Chatter      ChatterMemory

	// Version is the optimistic-concurrency token. UpdateState refuses the
	// write unless the stored version matches, then increments it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewState returns an empty state for a fresh session.
func NewState(sessionKey, businessID, channel string) *State {
	now := time.Now().UTC()
	return &State{
		SessionKey: sessionKey,
		BusinessID: businessID,
		Channel:    channel,
		FlowStatus: FlowStatusIdle,
		Verification: Verification{
			Status: VerificationNone,
		},
		Slots:     make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Draft generation lock types ---

// DraftLockStatus is the lifecycle state of a draft generation lock.
type DraftLockStatus string

const (
	DraftLockInProgress DraftLockStatus = "IN_PROGRESS"
	DraftLockCompleted  DraftLockStatus = "COMPLETED"
	DraftLockFailed     DraftLockStatus = "FAILED"
)

// DraftKey identifies one at-most-once draft generation.
type DraftKey struct {
	BusinessID      string
	ThreadID        string
	SourceMessageID string
}

// DraftLock is the persisted lock row guarding one expensive generation.
type DraftLock struct {
	ID          string
	Key         DraftKey
	Status      DraftLockStatus
	RequestHash string
	ResultID    string
	FailReason  string
	StartedAt   time.Time
	// ExpiresAt is the total-expiry deadline after which the row is swept.
	ExpiresAt time.Time
}

// DraftAcquireReason explains a refused acquire.
type DraftAcquireReason string

const (
	DraftReasonInProgress    DraftAcquireReason = "GENERATION_IN_PROGRESS"
	DraftReasonAlreadyExists DraftAcquireReason = "DRAFT_ALREADY_EXISTS"
)

// DraftAcquire is the result of an acquire attempt. Exactly one concurrent
// caller per key observes Acquired=true; the rest see the reason and, for
// completed locks, the prior result ID.
type DraftAcquire struct {
	Acquired   bool
	LockID     string
	Reason     DraftAcquireReason
	ExistingID string
}

// --- Audit types ---

// AuditEntry records one auditable engine event (turn, tool dispatch, lock
// trip). Appends are best-effort; audit failure never fails the turn.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Action     string
	BusinessID string
	SessionKey string
	Tool       string
	Details    map[string]any
	Result     string
}
