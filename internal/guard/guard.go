// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package guard tracks suspicious per-session activity and flips a cooldown
// lock when a threshold is exceeded. While locked, every request for that
// session must short-circuit to one fixed generic message: distinct lock
// reasons map to distinct cooldowns internally, but callers must never vary
// the user-facing text by reason, because distinguishable failures are
// exactly what an enumeration attacker probes for.
package guard

import (
	"sync"
	"time"
)

// Reason classifies why a session was locked.
type Reason string

const (
	ReasonEnumeration Reason = "ENUMERATION"
	ReasonAbuse       Reason = "ABUSE"
	ReasonThreat      Reason = "THREAT"
	ReasonPIIRisk     Reason = "PII_RISK"
	ReasonLoop        Reason = "LOOP"
	ReasonSpam        Reason = "SPAM"
)

const (
	defaultThreshold = 3
	defaultWindow    = 10 * time.Minute
)

// defaultCooldowns maps each reason to its lock duration. Zero means
// permanent: the lock never expires on its own.
var defaultCooldowns = map[Reason]time.Duration{
	ReasonEnumeration: 15 * time.Minute,
	ReasonAbuse:       24 * time.Hour,
	ReasonThreat:      0,
	ReasonPIIRisk:     time.Hour,
	ReasonLoop:        10 * time.Minute,
	ReasonSpam:        30 * time.Minute,
}

// Config tunes the guard thresholds.
type Config struct {
	// Threshold is the number of suspicious events tolerated within Window
	// before the next one locks the session. Default 3.
	Threshold int
	// Window is the sliding window for counting suspicious events.
	Window time.Duration
	// Cooldowns overrides the per-reason lock durations.
	Cooldowns map[Reason]time.Duration
}

type sessionEntry struct {
	events      []time.Time
	reason      Reason
	lockedUntil time.Time
	permanent   bool
	lastSeen    time.Time
}

// Status is a point-in-time snapshot of a session's lock state.
type Status struct {
	Locked      bool
	Reason      Reason
	LockedUntil time.Time
	Permanent   bool
}

// SessionGuard is the in-process abuse counter. One instance serves all
// sessions of a deployment node; entries are created lazily on the first
// suspicious event and swept after they go quiet.
type SessionGuard struct {
	mu        sync.Mutex
	sessions  map[string]*sessionEntry
	threshold int
	window    time.Duration
	cooldowns map[Reason]time.Duration
	nowFunc   func() time.Time
}

// New creates a SessionGuard with defaults applied for any zero config field.
func New(cfg Config) *SessionGuard {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}

	cooldowns := make(map[Reason]time.Duration, len(defaultCooldowns))
	for r, d := range defaultCooldowns {
		cooldowns[r] = d
	}
	for r, d := range cfg.Cooldowns {
		cooldowns[r] = d
	}

	return &SessionGuard{
		sessions:  make(map[string]*sessionEntry),
		threshold: threshold,
		window:    window,
		cooldowns: cooldowns,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (g *SessionGuard) SetNowFunc(fn func() time.Time) {
	g.mu.Lock()
	g.nowFunc = fn
	g.mu.Unlock()
}

// RecordSuspicious counts one suspicious event for the session and returns
// true if the session is now locked. Exceeding the threshold within the
// window flips the lock under the given reason's cooldown.
func (g *SessionGuard) RecordSuspicious(sessionKey string, reason Reason) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	entry := g.entryLocked(sessionKey, now)

	if g.isLockedLocked(entry, now) {
		return true
	}

	// Drop events that fell out of the window, then count this one.
	kept := entry.events[:0]
	for _, at := range entry.events {
		if now.Sub(at) <= g.window {
			kept = append(kept, at)
		}
	}
	entry.events = append(kept, now)

	if len(entry.events) > g.threshold {
		g.lockLocked(entry, reason, now)
		return true
	}
	return false
}

// Lock locks the session immediately, bypassing the counter. Used for
// signals that are conclusive on their own (threats, abusive language).
func (g *SessionGuard) Lock(sessionKey string, reason Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lockLocked(g.entryLocked(sessionKey, g.nowFunc()), reason, g.nowFunc())
}

// Unlock clears the lock and the counter for the session.
func (g *SessionGuard) Unlock(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionKey)
}

// IsLocked reports whether the session is currently locked. Expired
// cooldowns unlock lazily here.
func (g *SessionGuard) IsLocked(sessionKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.sessions[sessionKey]
	if !ok {
		return false
	}
	return g.isLockedLocked(entry, g.nowFunc())
}

// StatusOf returns the lock snapshot for operator visibility. The reason is
// for logs and metrics only and must never reach user-facing text.
func (g *SessionGuard) StatusOf(sessionKey string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.sessions[sessionKey]
	if !ok {
		return Status{}
	}

	now := g.nowFunc()
	return Status{
		Locked:      g.isLockedLocked(entry, now),
		Reason:      entry.reason,
		LockedUntil: entry.lockedUntil,
		Permanent:   entry.permanent,
	}
}

// Sweep removes entries that are unlocked and quiet for longer than the
// window. Returns the number of entries removed. Called by the janitor.
func (g *SessionGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	removed := 0
	for key, entry := range g.sessions {
		if g.isLockedLocked(entry, now) {
			continue
		}
		if now.Sub(entry.lastSeen) > g.window {
			delete(g.sessions, key)
			removed++
		}
	}
	return removed
}

func (g *SessionGuard) entryLocked(sessionKey string, now time.Time) *sessionEntry {
	entry, ok := g.sessions[sessionKey]
	if !ok {
		entry = &sessionEntry{}
		g.sessions[sessionKey] = entry
	}
	entry.lastSeen = now
	return entry
}

func (g *SessionGuard) lockLocked(entry *sessionEntry, reason Reason, now time.Time) {
	entry.reason = reason
	entry.events = nil

	cooldown, ok := g.cooldowns[reason]
	if ok && cooldown == 0 {
		entry.permanent = true
		return
	}
	if !ok {
		cooldown = g.window
	}
	entry.lockedUntil = now.Add(cooldown)
}

func (g *SessionGuard) isLockedLocked(entry *sessionEntry, now time.Time) bool {
	if entry.permanent {
		return true
	}
	return entry.lockedUntil.After(now)
}
