// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/store"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// restrictedConfirmThreshold gates the restricted-mode redirect: only a
// confident, non-generic classifier verdict triggers it.
const restrictedConfirmThreshold = 0.6

// Config tunes the decision pipeline.
type Config struct {
	// VerificationExemptFlows never require identity verification; a
	// stale pending check must not annotate turns in these flows.
	VerificationExemptFlows []string

	// DisputeKeywords route complaint language into the dispute flow.
	DisputeKeywords []string
}

// DefaultConfig returns the stock pipeline tuning.
func DefaultConfig() Config {
	return Config{
		VerificationExemptFlows: []string{"stock_lookup", "faq", "store_hours"},
		DisputeKeywords: []string{
			"sikayet", "itiraz", "complaint", "dispute", "chargeback",
			"yanlis tahsilat", "double charge",
		},
	}
}

// Engine is the layered pre-model decision pipeline. It reads session
// state and the guard but never writes either; mutations belong to the
// orchestrator.
type Engine struct {
	guard      *guard.SessionGuard
	classifier provider.Classifier
	cfg        Config
	logger     *slog.Logger
}

// NewEngine builds an Engine. The classifier may be nil, in which case
// every classifier-backed layer falls open to its cheap heuristic.
func NewEngine(g *guard.SessionGuard, classifier provider.Classifier, cfg Config, logger *slog.Logger) (*Engine, error) {
	if g == nil {
		return nil, hderr.New(hderr.CodeConfigValidateInvalidValue, "routing engine needs a session guard")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{guard: g, classifier: classifier, cfg: cfg, logger: logger}, nil
}

// Decide runs the layers in priority order and returns the first verdict.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	if in.State == nil {
		return Decision{Action: ActionRunIntentRouter}
	}

	// Layer 0: session lock. Locked sessions get the fixed generic
	// message no matter what they sent.
	if e.guard.IsLocked(in.State.SessionKey) {
		st := e.guard.StatusOf(in.State.SessionKey)
		return Decision{
			Action:     ActionSessionLocked,
			MessageKey: catalog.KeySessionLocked,
			LockReason: st.Reason,
		}
	}

	// Layer 1: restricted-mode redirect.
	if in.Restricted {
		if d, ok := e.restrictedRedirect(ctx, in); ok {
			return d
		}
	}

	// Layer 2: callback intercept, sticky while the flow is pending.
	if d, ok := e.callbackIntercept(ctx, in); ok {
		return d
	}

	// Layer 3: pure chatter, only when no task is active. Mid-flow the
	// same words may carry task data, so detection is suppressed.
	if taskInactive(in) {
		if kind, ok := DetectChatter(in.Text); ok {
			return Decision{
				Action:     ActionAcknowledgeChatter,
				MessageKey: chatterMessageKey(kind),
				Chatter:    kind,
			}
		}
	}

	// Layer 4 annotation: verification pending on a flow that actually
	// gates on it. The raw input is not classified as proof here; the
	// model sees the full conversation and decides.
	verificationPending := in.State.Verification.Status == store.VerificationPending &&
		!e.isVerificationExempt(in.State.ActiveFlow)

	// Layer 5: generic dispatch.
	d := e.dispatch(in)
	d.VerificationPending = verificationPending
	return d
}

// restrictedRedirect fires only when an account-specific hint matches and
// the classifier confidently confirms a non-generic category. Classifier
// trouble falls through to normal routing rather than redirecting.
func (e *Engine) restrictedRedirect(ctx context.Context, in Input) (Decision, bool) {
	norm := normalizeText(in.Text)
	hintHit := false
	for _, hint := range in.Hints {
		if h := normalizeText(hint); h != "" && strings.Contains(norm, h) {
			hintHit = true
			break
		}
	}
	if !hintHit {
		return Decision{}, false
	}
	if e.classifier == nil {
		return Decision{}, false
	}

	cls, err := e.classifier.Classify(ctx, in.Text, nil, in.Language)
	if err != nil || cls == nil {
		e.logger.Warn("restricted-mode classifier failed, falling through", "error", err)
		return Decision{}, false
	}
	if cls.Confidence < restrictedConfirmThreshold ||
		cls.Intent == provider.IntentUnknown || cls.Intent == provider.IntentChatter {
		return Decision{}, false
	}
	return Decision{
		Action:     ActionRestrictedRedirect,
		MessageKey: catalog.KeyRestrictedMode,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
	}, true
}

// callbackIntercept implements the two-layer detection. A pending
// callback flow keeps the intercept sticky without re-detection.
func (e *Engine) callbackIntercept(ctx context.Context, in Input) (Decision, bool) {
	sticky := in.State.Callback.Pending
	if !sticky {
		if !matchCallbackStem(in.Text) {
			return Decision{}, false
		}
		if !confirmCallbackIntent(ctx, e.classifier, in.Text, in.Language, e.logger) {
			return Decision{}, false
		}
	}

	upd := MergeCallbackUpdate(
		in.State.Callback.CustomerName,
		in.State.Callback.CustomerPhone,
		CallbackUpdate{
			CustomerName:  ExtractCallbackName(in.Text),
			CustomerPhone: ExtractCallbackPhone(in.Text),
		},
	)

	key := catalog.KeyCallbackAck
	switch {
	case upd.CustomerName == "":
		key = catalog.KeyCallbackAskName
	case upd.CustomerPhone == "":
		key = catalog.KeyCallbackAskPhone
	}

	return Decision{
		Action:     ActionCallbackIntercept,
		MessageKey: key,
		Callback:   upd,
	}, true
}

// dispatch is the fall-through layer: dispute keywords, then active-flow
// continuation, then the model-driven intent router.
func (e *Engine) dispatch(in Input) Decision {
	norm := normalizeText(in.Text)
	for _, kw := range e.cfg.DisputeKeywords {
		if k := normalizeText(kw); k != "" && strings.Contains(norm, k) {
			return Decision{Action: ActionHandleDispute}
		}
	}

	if in.State.ActiveFlow != "" {
		switch in.State.FlowStatus {
		case store.FlowStatusInProgress:
			if len(in.State.Slots) > 0 {
				return Decision{Action: ActionProcessSlot}
			}
			return Decision{Action: ActionContinueFlow}
		case store.FlowStatusPostResult, store.FlowStatusPaused:
			return Decision{Action: ActionContinueFlow}
		}
	}
	return Decision{Action: ActionRunIntentRouter}
}

func (e *Engine) isVerificationExempt(flow string) bool {
	for _, f := range e.cfg.VerificationExemptFlows {
		if f == flow {
			return true
		}
	}
	return false
}

func taskInactive(in Input) bool {
	return in.State.ActiveFlow == "" || in.State.FlowStatus == store.FlowStatusIdle
}

func chatterMessageKey(kind ChatterKind) string {
	switch kind {
	case ChatterGreeting:
		return catalog.KeyChatterGreeting
	case ChatterThanks:
		return catalog.KeyChatterThanks
	default:
		return catalog.KeyChatterFiller
	}
}
