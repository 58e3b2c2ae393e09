// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/halodesk/halodesk/internal/catalog"
	"github.com/halodesk/halodesk/internal/config"
	"github.com/halodesk/halodesk/internal/guard"
	"github.com/halodesk/halodesk/internal/idempotency"
	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/provider"
	anthropicprov "github.com/halodesk/halodesk/internal/provider/anthropic"
	openaiprov "github.com/halodesk/halodesk/internal/provider/openai"
	"github.com/halodesk/halodesk/internal/routing"
	"github.com/halodesk/halodesk/internal/secrets"
	"github.com/halodesk/halodesk/internal/server"
	"github.com/halodesk/halodesk/internal/session"
	"github.com/halodesk/halodesk/internal/store"
	"github.com/halodesk/halodesk/internal/store/sqlite"
	"github.com/halodesk/halodesk/internal/tools"
	"github.com/halodesk/halodesk/internal/turn"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// Engine holds all wired subsystems and manages their lifecycle.
type Engine struct {
	Server    *server.Server
	Providers *provider.Router
	Guard     *guard.SessionGuard

	states store.StateStore
	drafts store.DraftLockStore
	audit  store.AuditStore
	cache  idempotency.Cache
	redis  *goredis.Client
	logger *slog.Logger
}

// WireEngine creates all subsystems from config and wires them together.
func WireEngine(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	flows, err := loadFlows(cfg)
	if err != nil {
		return nil, err
	}

	states, drafts, audit, err := buildStores(cfg)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		states: states,
		drafts: drafts,
		audit:  audit,
		logger: logger,
	}

	eng.Guard = guard.New(guard.Config{
		Threshold: cfg.Guard.Threshold,
		Window:    cfg.Guard.Window,
	})

	eng.cache = buildCache(cfg, eng, logger)

	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		eng.closeStores()
		return nil, err
	}
	eng.Providers, err = provider.NewRouter(logger, adapters...)
	if err != nil {
		eng.closeStores()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating provider router")
	}

	var classifier provider.Classifier
	if cfg.Models.Classifier != "" {
		classifier = provider.NewLLMClassifier(
			eng.Providers, config.ModelFromRef(cfg.Models.Classifier), provider.DefaultClassifyTimeout, logger)
	}

	routingCfg := routing.DefaultConfig()
	if exempt := flows.ExemptFlows(); len(exempt) > 0 {
		routingCfg.VerificationExemptFlows = exempt
	}
	if kws := flows.DisputeKeywords(); len(kws) > 0 {
		routingCfg.DisputeKeywords = kws
	}
	engine, err := routing.NewEngine(eng.Guard, classifier, routingCfg, logger)
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating routing engine")
	}

	registry := tools.NewRegistry()
	toolClient := &http.Client{Timeout: tools.DefaultExecuteTimeout}
	for _, spec := range flows.Tools() {
		registry.Register(spec.Name,
			tools.NewHTTPExecutor(spec.Endpoint, toolClient),
			provider.ToolDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				InputSchema: spec.Schema,
			},
			spec.SideEffect)
	}

	m := metrics.New()
	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry:   registry,
		Guard:      eng.Guard,
		Cache:      eng.cache,
		AuditStore: audit,
		Metrics:    m,
		TTL:        cfg.Idempotency.TTL,
		Logger:     logger,
	})
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating tool dispatcher")
	}

	cat := catalog.NewDefaultCatalog()
	loop, err := turn.NewLoop(eng.Providers, dispatcher, cat, m, logger)
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating turn loop")
	}

	orch, err := turn.NewOrchestrator(turn.OrchestratorConfig{
		Sessions: session.NewManager(states),
		Engine:   engine,
		Loop:     loop,
		Registry: registry,
		Catalog:  cat,
		Gating:   flows,
		Audit:    audit,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating orchestrator")
	}

	draftSvc, err := turn.NewDraftService(drafts, eng.Providers, logger)
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating draft service")
	}

	eng.Server, err = server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, &server.Services{
		Orchestrator: orch,
		Drafts:       draftSvc,
		Providers:    eng.Providers,
		Metrics:      m,
	})
	if err != nil {
		_ = eng.Close()
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating HTTP server")
	}

	return eng, nil
}

func loadFlows(cfg *config.Config) (*config.FlowSet, error) {
	if cfg.Flows.File == "" {
		return config.DefaultFlows(), nil
	}
	flows, err := config.LoadFlows(cfg.Flows.File)
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "loading flow definitions")
	}
	return flows, nil
}

func buildStores(cfg *config.Config) (store.StateStore, store.DraftLockStore, store.AuditStore, error) {
	if cfg.Storage.Backend == "memory" {
		return store.NewMemoryStateStore(), store.NewMemoryDraftLockStore(), store.NewMemoryAuditStore(), nil
	}

	states, err := sqlite.NewStateStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "opening state store")
	}
	drafts, err := sqlite.NewDraftLockStore(cfg.Storage.Path)
	if err != nil {
		_ = states.Close()
		return nil, nil, nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "opening draft lock store")
	}
	audit, err := sqlite.NewAuditStore(cfg.Storage.Path)
	if err != nil {
		_ = states.Close()
		_ = drafts.Close()
		return nil, nil, nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "opening audit store")
	}
	return states, drafts, audit, nil
}

// buildCache selects the idempotency backend. With Redis configured the
// shared cache holds across instances, degraded to in-process on outages;
// without it the in-process cache alone covers same-instance retries.
func buildCache(cfg *config.Config, eng *Engine, logger *slog.Logger) idempotency.Cache {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, idempotency cache is per-instance only")
		return idempotency.NewMemoryCache()
	}
	eng.redis = goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return idempotency.NewFallbackCache(idempotency.NewRedisCache(eng.redis))
}

func buildAdapters(cfg *config.Config, logger *slog.Logger) ([]provider.Completer, error) {
	ks := secrets.NewKeyringStore()

	var adapters []provider.Completer
	for _, name := range providerOrder(cfg) {
		pc := cfg.Providers[name]

		key, err := secrets.Resolve(ks, pc.APIKey)
		if err != nil {
			logger.Warn("skipping provider, API key unresolvable", "provider", name, "error", err)
			continue
		}

		model := pc.Model
		if model == "" {
			model = modelForProvider(cfg, name)
		}

		switch name {
		case "anthropic":
			a, err := anthropicprov.New(anthropicprov.Config{APIKey: key, BaseURL: pc.Endpoint, Model: model})
			if err != nil {
				return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating anthropic adapter")
			}
			adapters = append(adapters, a)
		case "openai":
			a, err := openaiprov.New(openaiprov.Config{APIKey: key, BaseURL: pc.Endpoint, Model: model})
			if err != nil {
				return nil, hderr.Wrap(err, hderr.CodeCLISetupFailure, "creating openai adapter")
			}
			adapters = append(adapters, a)
		default:
			logger.Warn("unknown provider in config, skipping", "provider", name)
		}
	}
	return adapters, nil
}

// providerOrder puts the completion model's provider first, then the
// failover chain, then anything else configured.
func providerOrder(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := cfg.Providers[name]; !ok {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	add(config.ProviderFromModel(cfg.Models.Completion))
	for _, ref := range cfg.Models.Failover {
		add(config.ProviderFromModel(ref))
	}
	for name := range cfg.Providers {
		add(name)
	}
	return order
}

// modelForProvider finds the model the config routes to a provider.
func modelForProvider(cfg *config.Config, name string) string {
	refs := append([]string{cfg.Models.Completion}, cfg.Models.Failover...)
	for _, ref := range refs {
		if config.ProviderFromModel(ref) == name {
			return config.ModelFromRef(ref)
		}
	}
	return ""
}

// RunJanitor sweeps expired draft locks, idempotency records, and quiet
// guard entries until the context is cancelled.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.drafts.CleanupExpired(ctx); err != nil {
				e.logger.Warn("draft lock cleanup failed", "error", err)
			} else if n > 0 {
				e.logger.Debug("swept expired draft locks", "removed", n)
			}
			if _, err := e.cache.CleanupExpired(ctx); err != nil {
				e.logger.Warn("idempotency cleanup failed", "error", err)
			}
			if n := e.Guard.Sweep(); n > 0 {
				e.logger.Debug("swept quiet guard entries", "removed", n)
			}
		}
	}
}

func (e *Engine) closeStores() {
	_ = e.states.Close()
	_ = e.drafts.Close()
	_ = e.audit.Close()
}

// Close releases all subsystem resources.
func (e *Engine) Close() error {
	var firstErr error
	if e.Providers != nil {
		if err := e.Providers.Close(); err != nil {
			firstErr = err
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range []interface{ Close() error }{e.states, e.drafts, e.audit} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
