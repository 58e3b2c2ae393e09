// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package tools

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/idempotency"
	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/store"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// DefaultExecuteTimeout bounds a single tool execution attempt.
const DefaultExecuteTimeout = 10 * time.Second

// auditLogEscalationThreshold is the number of consecutive audit append
// failures after which logging escalates from Warn to Error.
const auditLogEscalationThreshold = 3

// Call is a single tool invocation request.
type Call struct {
	Tool      string
	Arguments string // JSON
	Turn      TurnContext
}

// DispatcherConfig holds dependencies for Dispatcher.
type DispatcherConfig struct {
	Registry   *Registry
	Guard      *guard.SessionGuard
	Cache      idempotency.Cache
	AuditStore store.AuditStore
	Metrics    *metrics.Metrics
	Timeout    time.Duration
	TTL        time.Duration
	Logger     *slog.Logger
}

// Dispatcher executes tool calls with the lock pre-check, idempotency
// memoization, a single infrastructure retry, outcome normalization, and
// best-effort audit logging.
type Dispatcher struct {
	registry *Registry
	guard    *guard.SessionGuard
	cache    idempotency.Cache
	audit    store.AuditStore
	metrics  *metrics.Metrics
	timeout  time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	// flight collapses concurrent identical side-effecting calls onto one
	// execution; losers share the winner's record.
	flight singleflight.Group

	// auditFailCount tracks consecutive audit append failures for
	// escalating log levels. Resets on each successful append.
	auditFailCount atomic.Int64
	// auditFailTotal never resets, so intermittent failure patterns stay
	// visible to operators.
	auditFailTotal atomic.Int64
}

// NewDispatcher creates a Dispatcher. Registry and Guard are required;
// Cache and AuditStore may be nil (memoization and audit are skipped).
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, hderr.New(hderr.CodeTurnInvalidInput, "Registry is required")
	}
	if cfg.Guard == nil {
		return nil, hderr.New(hderr.CodeTurnInvalidInput, "Guard is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExecuteTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = idempotency.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		guard:    cfg.Guard,
		cache:    cfg.Cache,
		audit:    cfg.AuditStore,
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
	}, nil
}

// Execute runs one tool call.
//
// Order matters: the lock check runs again here even though the router
// already checked it, because a session can lock mid-turn (an earlier call
// in the same loop tripping the enumeration counter). Side-effecting calls
// run under the idempotency key: a prior record short-circuits execution,
// and concurrent identical deliveries collapse onto a single execution,
// which together make side effects at-most-once under provider webhook
// retries.
func (d *Dispatcher) Execute(ctx context.Context, call Call) (*outcome.Result, error) {
	sessionKey := ""
	if call.Turn.State != nil {
		sessionKey = call.Turn.State.SessionKey
	}

	if sessionKey != "" && d.guard.IsLocked(sessionKey) {
		d.auditCall(ctx, call, "locked")
		return nil, hderr.New(hderr.CodeTurnSessionLocked, "session is locked",
			hderr.FieldSessionKey(sessionKey), hderr.FieldTool(call.Tool))
	}

	exec, ok := d.registry.Lookup(call.Tool)
	if !ok {
		return nil, hderr.Errorf(hderr.CodeToolNotFound, "tool %q is not registered", call.Tool)
	}

	if d.cache == nil || !d.registry.IsSideEffecting(call.Tool) {
		return d.dispatch(ctx, exec, call, sessionKey)
	}

	key := idempotency.Key{
		BusinessID: call.Turn.BusinessID,
		Channel:    call.Turn.Channel,
		MessageID:  call.Turn.MessageID,
		ToolName:   call.Tool,
	}

	// Two identical deliveries racing past the cache miss would fire the
	// side effect twice; the flight serializes them so only the first
	// executes and the rest receive its record.
	v, err, _ := d.flight.Do(key.String(), func() (any, error) {
		rec, err := d.cache.Get(ctx, key)
		if err != nil {
			// Cache trouble must not block the turn; the fallback cache
			// already degraded to memory, so this is log-and-continue.
			d.logger.Warn("idempotency lookup failed, executing tool",
				"tool", call.Tool, "error", err)
		} else if rec != nil {
			d.auditCall(ctx, call, "idempotent_hit")
			if d.metrics != nil {
				d.metrics.IdempotencyHitsTotal.Inc()
			}
			if rec.Success && rec.Result != nil {
				return rec.Result, nil
			}
			return nil, hderr.New(hderr.CodeTurnToolInfraFailure, rec.Error,
				hderr.FieldTool(call.Tool))
		}

		res, err := d.dispatch(ctx, exec, call, sessionKey)
		if err != nil {
			return nil, err
		}
		if err := d.cache.Put(ctx, key, &idempotency.Record{Success: true, Result: res}, d.ttl); err != nil {
			d.logger.Warn("idempotency record write failed",
				"tool", call.Tool, "error", err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*outcome.Result), nil
}

// dispatch runs the tool once (with the infra retry), normalizes the
// outcome, feeds the enumeration guard, and accounts the call.
func (d *Dispatcher) dispatch(ctx context.Context, exec Executor, call Call, sessionKey string) (*outcome.Result, error) {
	res, err := d.executeWithRetry(ctx, exec, call)
	if err != nil {
		d.auditCall(ctx, call, "infra_error")
		return nil, err
	}

	res.Outcome = outcome.Normalize(string(res.Outcome))

	// Not-found probes feed the enumeration counter. The lookup that trips
	// the lock is itself refused: surfacing its business result would hand
	// a prober one more distinguishable existence signal.
	if sessionKey != "" && res.Outcome == outcome.NotFound {
		if d.guard.RecordSuspicious(sessionKey, guard.ReasonEnumeration) {
			d.logger.Warn("session locked after repeated not-found lookups",
				"session_key", sessionKey, "tool", call.Tool)
			if d.metrics != nil {
				d.metrics.LockTripsTotal.WithLabelValues(string(guard.ReasonEnumeration)).Inc()
			}
			d.auditCall(ctx, call, "locked")
			return nil, hderr.New(hderr.CodeTurnSessionLocked, "session is locked",
				hderr.FieldSessionKey(sessionKey), hderr.FieldTool(call.Tool))
		}
	}

	if d.metrics != nil {
		d.metrics.ToolCallsTotal.WithLabelValues(call.Tool, string(res.Outcome)).Inc()
	}
	d.auditCall(ctx, call, string(res.Outcome))
	return res, nil
}

// executeWithRetry runs the tool with a per-attempt timeout and exactly
// one retry, and only for infrastructure failures. Business outcomes,
// including INFRA_ERROR results a tool chose to return, never retry a
// second time past the bound; NOT_FOUND and friends never retry at all.
func (d *Dispatcher) executeWithRetry(ctx context.Context, exec Executor, call Call) (*outcome.Result, error) {
	const attempts = 2

	var lastErr error
	for i := 0; i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		res, err := exec.Execute(attemptCtx, call.Arguments, call.Turn)
		cancel()

		if err == nil && res != nil {
			res.Outcome = outcome.Normalize(string(res.Outcome))
			if outcome.ShouldRetry(res.Outcome) && i < attempts-1 {
				d.logger.Warn("tool reported infra error, retrying once",
					"tool", call.Tool)
				continue
			}
			return res, nil
		}

		if err == nil {
			err = hderr.Errorf(hderr.CodeToolResultInvalid, "tool %q returned no result", call.Tool)
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			err = hderr.Wrapf(err, hderr.CodeTurnToolTimeout, "tool %q execution timeout", call.Tool)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, hderr.Wrapf(lastErr, hderr.CodeTurnToolInfraFailure,
		"tool %q failed after %d attempts", call.Tool, attempts)
}

// auditCall writes a best-effort audit entry for a dispatch event. Audit
// failures never fail the tool call; consecutive failures escalate the
// log level so a dead audit store is visible to operators.
func (d *Dispatcher) auditCall(ctx context.Context, call Call, result string) {
	if d.audit == nil {
		return
	}

	// Truncate arguments to bound entry size, walking back to a valid
	// UTF-8 rune boundary.
	const maxArgLen = 1024
	args := call.Arguments
	if len(args) > maxArgLen {
		i := maxArgLen
		for i > 0 && !utf8.RuneStart(args[i]) {
			i--
		}
		args = args[:i]
	}

	sessionKey := ""
	if call.Turn.State != nil {
		sessionKey = call.Turn.State.SessionKey
	}

	entry := &store.AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Action:     "tool_dispatch",
		BusinessID: call.Turn.BusinessID,
		SessionKey: sessionKey,
		Tool:       call.Tool,
		Details: map[string]any{
			"tool_arguments": args,
			"message_id":     call.Turn.MessageID,
			"channel":        call.Turn.Channel,
		},
		Result: result,
	}

	if err := d.audit.Append(ctx, entry); err != nil {
		consecutive := d.auditFailCount.Add(1)
		cumulative := d.auditFailTotal.Add(1)
		attrs := []any{
			"error", err,
			"tool", call.Tool,
			"session_key", sessionKey,
			"consecutive_failures", consecutive,
		}
		if consecutive >= auditLogEscalationThreshold {
			attrs = append(attrs, "total_failures", cumulative)
			d.logger.Error("audit store append failed", attrs...)
		} else {
			d.logger.Warn("audit store append failed", attrs...)
		}
		return
	}
	d.auditFailCount.Store(0)
}
