// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package tools holds the tool registry and the dispatcher that executes
// model-requested tool calls behind the guard, the idempotency cache, and
// the retry wrapper.
package tools

import (
	"context"
	"sync"

	"github.com/halodesk/halodesk/internal/outcome"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/store"
)

// TurnContext is what a tool sees about the turn it runs in. It carries
// session state and message identity but never raw secrets; AutoVerified
// is the channel-identity trust signal.
type TurnContext struct {
	State        *store.State
	BusinessID   string
	Channel      string
	MessageID    string
	Language     string
	AutoVerified bool
}

// Executor is a single tool implementation. Arguments is the raw JSON
// argument object from the model. Business results come back as a Result;
// an error return means infrastructure trouble, never a business outcome.
type Executor interface {
	Execute(ctx context.Context, arguments string, tc TurnContext) (*outcome.Result, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, arguments string, tc TurnContext) (*outcome.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, arguments string, tc TurnContext) (*outcome.Result, error) {
	return f(ctx, arguments, tc)
}

// entry holds the executor and definition for a registered tool, plus
// whether the tool has side effects (side-effecting tools go through the
// idempotency cache; pure lookups do not need to).
type entry struct {
	executor   Executor
	definition provider.ToolDefinition
	sideEffect bool
}

// Registry is a thread-safe in-memory tool registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register maps a tool name to its executor and definition. sideEffect
// marks tools whose execution must be at-most-once per message.
func (r *Registry) Register(name string, exec Executor, def provider.ToolDefinition, sideEffect bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &entry{executor: exec, definition: def, sideEffect: sideEffect}
}

// Lookup returns the executor for a tool, plus whether it is registered.
func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.executor, true
}

// IsSideEffecting reports whether a registered tool has side effects.
// Unregistered names report false.
func (r *Registry) IsSideEffecting(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return ok && e.sideEffect
}

// Definitions returns every registered tool definition.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.definition)
	}
	return defs
}

// DefinitionsFor returns the definitions for an allowed subset only.
// Flow configuration gates which tools a given flow may advertise to the
// model; names not registered are skipped silently.
func (r *Registry) DefinitionsFor(allowed []string) []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(allowed))
	for _, name := range allowed {
		if e, ok := r.tools[name]; ok {
			defs = append(defs, e.definition)
		}
	}
	return defs
}
