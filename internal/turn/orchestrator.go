// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/routing"
	"github.com/halodesk/halodesk/internal/session"
	"github.com/halodesk/halodesk/internal/store"
	"github.com/halodesk/halodesk/internal/tools"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// FlowGating answers which tools a flow may advertise to the model. An
// empty slice means the flow runs without tools.
type FlowGating interface {
	ToolsForFlow(flow string) []string
}

// FlowGatingFunc adapts a function to FlowGating.
type FlowGatingFunc func(flow string) []string

func (f FlowGatingFunc) ToolsForFlow(flow string) []string { return f(flow) }

// Inbound is one customer message entering the engine.
type Inbound struct {
	SessionKey string
	BusinessID string
	Channel    string
	MessageID  string
	Text       string
	Language   string

	// Restricted marks a knowledge-base-only channel; Hints feed the
	// redirect check.
	Restricted bool
	Hints      []string

	// AutoVerified is the channel-identity trust signal (e.g. a verified
	// phone number on a messaging channel).
	AutoVerified bool
}

// Outbound is the engine's reply for one turn.
type Outbound struct {
	Reply       string
	Action      routing.Action
	ToolsCalled []string
	Locked      bool

	// Outcome is the last tool outcome, or Unknown for tool-less turns.
	Outcome outcome.Outcome
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Sessions *session.Manager
	Engine   *routing.Engine
	Loop     *Loop
	Registry *tools.Registry
	Catalog  catalog.Catalog
	Gating   FlowGating
	Audit    store.AuditStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// SystemPrompt is the base instruction prepended to every model run.
	SystemPrompt string
}

// Orchestrator drives one full turn: load state, route, run the loop,
// correct guardrails, persist, account.
type Orchestrator struct {
	sessions     *session.Manager
	engine       *routing.Engine
	loop         *Loop
	registry     *tools.Registry
	catalog      catalog.Catalog
	gating       FlowGating
	audit        store.AuditStore
	metrics      *metrics.Metrics
	logger       *slog.Logger
	systemPrompt string
}

// NewOrchestrator validates the wiring and returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Sessions == nil || cfg.Engine == nil || cfg.Loop == nil ||
		cfg.Registry == nil || cfg.Catalog == nil {
		return nil, hderr.New(hderr.CodeTurnInvalidInput,
			"orchestrator needs sessions, engine, loop, registry, and catalog")
	}
	if cfg.Gating == nil {
		cfg.Gating = FlowGatingFunc(func(string) []string { return nil })
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Orchestrator{
		sessions:     cfg.Sessions,
		engine:       cfg.Engine,
		loop:         cfg.Loop,
		registry:     cfg.Registry,
		catalog:      cfg.Catalog,
		gating:       cfg.Gating,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

const defaultSystemPrompt = "You are a customer support assistant. Answer in the customer's language. " +
	"Use the provided tools for any factual claim about orders, stock, or appointments; never invent data."

// Process runs one turn end to end.
func (o *Orchestrator) Process(ctx context.Context, in Inbound) (*Outbound, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.TurnDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if in.SessionKey == "" || in.MessageID == "" {
		return nil, hderr.New(hderr.CodeTurnInvalidInput, "session key and message id are required")
	}

	state, err := o.sessions.LoadOrCreate(ctx, in.SessionKey, in.BusinessID, in.Channel)
	if err != nil {
		return nil, err
	}

	decision := o.engine.Decide(ctx, routing.Input{
		State:      state,
		Text:       in.Text,
		Language:   in.Language,
		Channel:    in.Channel,
		Restricted: in.Restricted,
		Hints:      in.Hints,
	})

	switch decision.Action {
	case routing.ActionSessionLocked:
		o.countTurn("locked")
		o.auditTurn(ctx, in, string(decision.Action))
		return &Outbound{
			Reply:   o.resolveKey(decision.MessageKey, state, in, nil),
			Action:  decision.Action,
			Locked:  true,
			Outcome: outcome.Unknown,
		}, nil

	case routing.ActionAcknowledgeChatter:
		return o.acknowledgeChatter(ctx, in, state, decision)

	case routing.ActionCallbackIntercept:
		return o.interceptCallback(ctx, in, state, decision)

	case routing.ActionRestrictedRedirect:
		o.countTurn("restricted")
		o.auditTurn(ctx, in, string(decision.Action))
		return &Outbound{
			Reply:   o.resolveKey(decision.MessageKey, state, in, nil),
			Action:  decision.Action,
			Outcome: outcome.Unknown,
		}, nil
	}

	return o.runModelTurn(ctx, in, state, decision)
}

// acknowledgeChatter answers small talk from the catalog, rotating variants
// against the session's anti-repetition memory. No tools, no model.
func (o *Orchestrator) acknowledgeChatter(ctx context.Context, in Inbound, state *store.State, decision routing.Decision) (*Outbound, error) {
	resolved, err := o.catalog.Resolve(decision.MessageKey, catalog.Request{
		Language:     in.Language,
		SessionKey:   in.SessionKey,
		Seed:         in.MessageID,
		AvoidIndexes: session.RecentVariants(state, decision.MessageKey),
	})
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeCatalogKeyNotFound, "resolving chatter reply")
	}
	session.RememberChatter(state, resolved.MessageKey, resolved.VariantIndex)

	if err := o.persist(ctx, state, nil); err != nil {
		return nil, err
	}
	o.countTurn("chatter")
	o.auditTurn(ctx, in, string(decision.Action))
	return &Outbound{Reply: resolved.Text, Action: decision.Action, Outcome: outcome.Unknown}, nil
}

// interceptCallback advances the deterministic callback-collection flow.
func (o *Orchestrator) interceptCallback(ctx context.Context, in Inbound, state *store.State, decision routing.Decision) (*Outbound, error) {
	state.Callback.Pending = true
	state.Callback.CustomerName = decision.Callback.CustomerName
	state.Callback.CustomerPhone = decision.Callback.CustomerPhone
	state.Callback.MissingFields = state.Callback.MissingFields[:0]
	if state.Callback.CustomerName == "" {
		state.Callback.MissingFields = append(state.Callback.MissingFields, "name")
	}
	if state.Callback.CustomerPhone == "" {
		state.Callback.MissingFields = append(state.Callback.MissingFields, "phone")
	}
	if len(state.Callback.MissingFields) == 0 {
		// Everything collected: the request is handed off, the flow ends.
		state.Callback.Pending = false
		session.SwitchFlow(state, "")
	}

	reply := o.resolveKey(decision.MessageKey, state, in, map[string]string{
		"name": state.Callback.CustomerName,
	})
	if err := o.persist(ctx, state, nil); err != nil {
		return nil, err
	}
	o.countTurn("callback")
	o.auditTurn(ctx, in, string(decision.Action))
	return &Outbound{Reply: reply, Action: decision.Action, Outcome: outcome.Unknown}, nil
}

// runModelTurn handles the actions that need the model: intent routing,
// flow continuation, slot processing, disputes.
func (o *Orchestrator) runModelTurn(ctx context.Context, in Inbound, state *store.State, decision routing.Decision) (*Outbound, error) {
	switch decision.Action {
	case routing.ActionHandleDispute:
		if state.ActiveFlow != "dispute" {
			session.SwitchFlow(state, "dispute")
		}
	case routing.ActionRunIntentRouter:
		// A brand-new intent abandons the previous flow; SwitchFlow clears
		// any verification pending for it, so an old billing check cannot
		// block an unrelated question.
		if state.ActiveFlow != "" && state.FlowStatus != store.FlowStatusInProgress {
			session.SwitchFlow(state, "")
		}
	}

	allowed := o.gating.ToolsForFlow(state.ActiveFlow)
	var defs []provider.ToolDefinition
	if state.ActiveFlow == "" {
		defs = o.registry.Definitions()
	} else {
		defs = o.registry.DefinitionsFor(allowed)
	}

	loopRes, err := o.loop.Run(ctx, LoopRequest{
		System:   o.buildSystemPrompt(state, decision),
		Messages: []provider.Message{{Role: provider.RoleUser, Content: in.Text}},
		Tools:    defs,
		Language: in.Language,
		Turn: tools.TurnContext{
			State:        state,
			BusinessID:   in.BusinessID,
			Channel:      in.Channel,
			MessageID:    in.MessageID,
			Language:     in.Language,
			AutoVerified: in.AutoVerified,
		},
	})
	if err != nil {
		return nil, err
	}

	session.Apply(state, loopRes.Events)

	reply := o.correctGuardrails(state, loopRes, in)

	if err := o.persist(ctx, state, loopRes.Events); err != nil {
		return nil, err
	}

	switch {
	case loopRes.InfraFallback:
		o.countTurn("fallback")
	case outcome.IsFailure(loopRes.LastOutcome):
		o.countTurn("infra_error")
	default:
		o.countTurn("ok")
	}
	o.auditTurn(ctx, in, string(decision.Action))

	return &Outbound{
		Reply:       reply,
		Action:      decision.Action,
		ToolsCalled: loopRes.ToolsCalled,
		Outcome:     loopRes.LastOutcome,
	}, nil
}

// buildSystemPrompt layers turn-specific guardrail instructions over the
// base prompt.
func (o *Orchestrator) buildSystemPrompt(state *store.State, decision routing.Decision) string {
	var sb strings.Builder
	sb.WriteString(o.systemPrompt)
	if decision.VerificationPending || state.Verification.Status == store.VerificationPending {
		field := state.Verification.PendingField
		if field == "" {
			field = "name"
		}
		fmt.Fprintf(&sb, "\nIdentity verification is pending. Ask only for the customer's %s. "+
			"Do not reveal any record details and do not ask for anything else.", field)
	}
	return sb.String()
}

// correctGuardrails is the post-hoc pass over the model's reply.
//
// Two corrections apply. If this turn left verification pending, the reply
// must ask only for the pending field, so a reply that wanders (or came
// from a model ignoring the prompt) is replaced with the catalog's ask.
// Otherwise the leak filter strips protected anchor values out of the
// reply unless the outcome's message is already a pre-approved template.
func (o *Orchestrator) correctGuardrails(state *store.State, loopRes *LoopResult, in Inbound) string {
	reply := loopRes.Reply

	if state.Verification.Status == store.VerificationPending &&
		outcome.ShouldAskVerification(loopRes.LastOutcome) {
		field := state.Verification.PendingField
		if field == "" {
			field = "name"
		}
		return o.resolveKey(catalog.KeyVerificationAsk, state, in, map[string]string{"field": field})
	}

	if !outcome.ShouldBypassLeakFilter(loopRes.LastOutcome) {
		if leaked, clean := filterAnchorLeak(reply, state); leaked {
			o.logger.Warn("reply leaked protected anchor data, redacted",
				"session_key", state.SessionKey)
			return clean
		}
	}
	return reply
}

// filterAnchorLeak scans the reply for values of the pending verification
// anchor. While verification is not passed, none of the protected record
// may surface, so any hit forces the generic fallback.
func filterAnchorLeak(reply string, state *store.State) (bool, string) {
	if state.Verification.Status != store.VerificationPending {
		return false, reply
	}
	anchor, ok := state.Verification.Anchor.(map[string]any)
	if !ok {
		return false, reply
	}
	lower := strings.ToLower(reply)
	for _, v := range anchor {
		s, ok := v.(string)
		if !ok || len(s) < 3 {
			continue
		}
		if strings.Contains(lower, strings.ToLower(s)) {
			return true, "I can share those details once your identity is verified."
		}
	}
	return false, reply
}

// persist writes the state with compare-and-swap. On a version conflict
// the turn's events are reapplied onto freshly loaded state exactly once;
// a second conflict fails the turn. Message-level idempotency remains the
// primary duplicate-delivery defense.
func (o *Orchestrator) persist(ctx context.Context, state *store.State, events []outcome.Event) error {
	err := o.sessions.Save(ctx, state)
	if err == nil {
		return nil
	}
	if !hderr.HasCode(err, hderr.CodeStoreStateUpdateConflict) {
		return err
	}

	o.logger.Warn("session state conflict, re-deriving once", "session_key", state.SessionKey)
	fresh, rerr := o.sessions.Reload(ctx, state.SessionKey)
	if rerr != nil {
		return rerr
	}
	session.Apply(fresh, events)
	if serr := o.sessions.Save(ctx, fresh); serr != nil {
		return hderr.Wrap(serr, hderr.CodeStoreStateUpdateConflict,
			"session state conflicted twice in one turn")
	}
	*state = *fresh
	return nil
}

func (o *Orchestrator) resolveKey(key string, state *store.State, in Inbound, vars map[string]string) string {
	resolved := catalog.MustResolveWith(o.catalog, key, catalog.Request{
		Language:   in.Language,
		SessionKey: state.SessionKey,
		Seed:       in.MessageID,
		Variables:  vars,
	})
	return resolved.Text
}

func (o *Orchestrator) countTurn(result string) {
	if o.metrics != nil {
		o.metrics.TurnsTotal.WithLabelValues(result).Inc()
	}
}

// auditTurn writes a best-effort turn summary.
func (o *Orchestrator) auditTurn(ctx context.Context, in Inbound, action string) {
	if o.audit == nil {
		return
	}
	entry := &store.AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Action:     "turn",
		BusinessID: in.BusinessID,
		SessionKey: in.SessionKey,
		Details: map[string]any{
			"message_id": in.MessageID,
			"channel":    in.Channel,
			"routing":    action,
		},
		Result: "ok",
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.logger.Warn("turn audit append failed", "error", err)
	}
}
