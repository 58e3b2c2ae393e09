// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package provider

import (
	"context"
	"log/slog"
	"sync"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// Router fans a completion request out to the first healthy adapter, in
// registration order. A failed call marks the adapter unhealthy for a
// cooldown and the next adapter is tried within the same request.
type Router struct {
	mu       sync.RWMutex
	adapters []Completer
	trackers map[string]*HealthTracker
	logger   *slog.Logger
}

// NewRouter builds a Router over the given adapters. Order matters: the
// first adapter is the preferred one, later adapters are fallbacks.
func NewRouter(logger *slog.Logger, adapters ...Completer) (*Router, error) {
	if len(adapters) == 0 {
		return nil, hderr.New(hderr.CodeProviderNotFound, "router needs at least one adapter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	trackers := make(map[string]*HealthTracker, len(adapters))
	for _, a := range adapters {
		t, err := NewHealthTracker(DefaultHealthCooldown)
		if err != nil {
			return nil, err
		}
		trackers[a.Name()] = t
	}
	return &Router{adapters: adapters, trackers: trackers, logger: logger}, nil
}

// Tracker returns the health tracker for a registered adapter, or nil.
func (r *Router) Tracker(name string) *HealthTracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[name]
}

// Adapters returns the registered adapter names in preference order.
func (r *Router) Adapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Complete tries each healthy adapter in order until one succeeds. Health
// bookkeeping is recorded per attempt. If every adapter is unhealthy or
// fails, the last error is returned wrapped as an upstream failure.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	r.mu.RLock()
	adapters := make([]Completer, len(r.adapters))
	copy(adapters, r.adapters)
	r.mu.RUnlock()

	var lastErr error
	for _, a := range adapters {
		tracker := r.Tracker(a.Name())
		if !tracker.IsHealthy() || !a.Available(ctx) {
			continue
		}
		comp, err := a.Complete(ctx, req)
		if err != nil {
			tracker.RecordFailure()
			lastErr = err
			r.logger.Warn("provider completion failed, trying next adapter",
				"provider", a.Name(), "error", err)
			continue
		}
		tracker.RecordSuccess()
		return comp, nil
	}

	if lastErr != nil {
		return nil, hderr.Wrap(lastErr, hderr.CodeProviderUpstreamFailure,
			"all providers failed")
	}
	return nil, hderr.New(hderr.CodeProviderUnavailable,
		"no healthy provider available")
}

// Close closes all registered adapters, returning the first error.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
