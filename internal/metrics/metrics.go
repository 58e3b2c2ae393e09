// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package metrics holds the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine counters on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts finished turns by result
	// (ok, locked, fallback, error, chatter, callback, restricted).
	TurnsTotal *prometheus.CounterVec

	// ToolCallsTotal counts dispatched tool calls by tool and outcome.
	ToolCallsTotal *prometheus.CounterVec

	// IdempotencyHitsTotal counts tool calls short-circuited by a cached
	// record.
	IdempotencyHitsTotal prometheus.Counter

	// LockTripsTotal counts sessions locked by the guard, by reason.
	LockTripsTotal *prometheus.CounterVec

	// TerminalShortCircuitsTotal counts loop exits forced by a terminal
	// business outcome, by outcome.
	TerminalShortCircuitsTotal *prometheus.CounterVec

	// TurnDuration observes end-to-end turn latency in seconds.
	TurnDuration prometheus.Histogram
}

// New creates a Metrics instance with its own registry, including the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halodesk_turns_total",
				Help: "Total finished turns by result",
			},
			[]string{"result"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halodesk_tool_calls_total",
				Help: "Total dispatched tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		IdempotencyHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halodesk_idempotency_hits_total",
				Help: "Tool calls answered from the idempotency cache",
			},
		),
		LockTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halodesk_session_lock_trips_total",
				Help: "Sessions locked by the anti-enumeration guard, by reason",
			},
			[]string{"reason"},
		),
		TerminalShortCircuitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halodesk_terminal_short_circuits_total",
				Help: "Tool loop exits forced by a terminal business outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "halodesk_turn_duration_seconds",
				Help:    "End-to-end turn latency",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.ToolCallsTotal,
		m.IdempotencyHitsTotal,
		m.LockTripsTotal,
		m.TerminalShortCircuitsTotal,
		m.TurnDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
