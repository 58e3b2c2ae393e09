// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/store"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// Draft lock tuning. An IN_PROGRESS lock older than DraftStaleAfter is
// treated as abandoned by a crashed worker and may be taken over; rows
// older than DraftExpiry are swept by the janitor.
const (
	DraftStaleAfter = 2 * time.Minute
	DraftExpiry     = 24 * time.Hour
)

// DraftRequest asks for one reply draft for an inbound thread message.
type DraftRequest struct {
	BusinessID      string
	ThreadID        string
	SourceMessageID string
	Language        string

	// Subject and Body are the message being answered.
	Subject string
	Body    string
}

// DraftResult reports either the generated draft or why generation was
// declined.
type DraftResult struct {
	Acquired bool
	DraftID  string
	Text     string

	// Reason explains a declined request: GENERATION_IN_PROGRESS or
	// DRAFT_ALREADY_EXISTS. ExistingID carries the prior draft on the
	// latter.
	Reason     store.DraftAcquireReason
	ExistingID string
}

// DraftService guards the expensive draft-generation pipeline with the
// cross-instance lock: at most one generation per (business, thread,
// source message), concurrent callers get the prior result or a
// still-running signal, and a crashed worker's lock is taken over after
// the stale window.
type DraftService struct {
	locks     store.DraftLockStore
	completer Completer
	logger    *slog.Logger

	staleAfter time.Duration
	expiry     time.Duration
}

// NewDraftService creates a DraftService.
func NewDraftService(locks store.DraftLockStore, completer Completer, logger *slog.Logger) (*DraftService, error) {
	if locks == nil || completer == nil {
		return nil, hderr.New(hderr.CodeTurnInvalidInput, "draft service needs a lock store and a completer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DraftService{
		locks:      locks,
		completer:  completer,
		logger:     logger,
		staleAfter: DraftStaleAfter,
		expiry:     DraftExpiry,
	}, nil
}

// Generate runs the draft pipeline for one request.
func (s *DraftService) Generate(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	if req.BusinessID == "" || req.ThreadID == "" || req.SourceMessageID == "" {
		return nil, hderr.New(hderr.CodeTurnInvalidInput,
			"business id, thread id, and source message id are required")
	}

	key := store.DraftKey{
		BusinessID:      req.BusinessID,
		ThreadID:        req.ThreadID,
		SourceMessageID: req.SourceMessageID,
	}
	acq, err := s.locks.Acquire(ctx, key, requestHash(req), s.staleAfter, s.expiry)
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeDraftAcquireFailure, "acquiring draft lock")
	}
	if !acq.Acquired {
		return &DraftResult{
			Reason:     acq.Reason,
			ExistingID: acq.ExistingID,
		}, nil
	}

	text, err := s.generate(ctx, req)
	if err != nil {
		// Release the key for a later retry; a failed generation must not
		// wedge it.
		if ferr := s.locks.Fail(ctx, acq.LockID, err.Error()); ferr != nil {
			s.logger.Error("marking draft lock failed", "lock_id", acq.LockID, "error", ferr)
		}
		return nil, err
	}

	draftID := uuid.New().String()
	if err := s.locks.Complete(ctx, acq.LockID, draftID); err != nil {
		// The lock was taken over mid-generation (we exceeded the stale
		// window). The other worker's result wins; discard ours.
		s.logger.Warn("draft lock no longer held, discarding result",
			"lock_id", acq.LockID, "error", err)
		return &DraftResult{Reason: store.DraftReasonInProgress}, nil
	}

	return &DraftResult{Acquired: true, DraftID: draftID, Text: text}, nil
}

const draftSystemPrompt = "You draft a reply for a customer support agent to review. " +
	"Write in the customer's language, stay factual, and do not promise anything the agent has not confirmed."

func (s *DraftService) generate(ctx context.Context, req DraftRequest) (string, error) {
	comp, err := s.completer.Complete(ctx, provider.CompletionRequest{
		System: draftSystemPrompt,
		Messages: []provider.Message{{
			Role:    provider.RoleUser,
			Content: "Subject: " + req.Subject + "\n\n" + req.Body,
		}},
	})
	if err != nil {
		return "", hderr.Wrap(err, hderr.CodeProviderUpstreamFailure, "generating draft")
	}
	if comp.Text == "" {
		return "", hderr.New(hderr.CodeProviderResponseInvalid, "draft generation produced empty text")
	}
	return comp.Text, nil
}

// requestHash fingerprints the request content so operators can tell
// whether a retried key carried the same payload.
func requestHash(req DraftRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Subject))
	h.Write([]byte{0})
	h.Write([]byte(req.Body))
	return hex.EncodeToString(h.Sum(nil))
}
