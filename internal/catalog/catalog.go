// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package catalog resolves message keys to localized user-facing text.
// Variant selection is seeded by a stable hash of (key, session, seed) so
// the same inputs always choose the same wording, while different sessions
// and contexts vary enough to avoid robotic repetition.
package catalog

import (
	"hash/fnv"
	"strings"

	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Request carries the resolution context.
type Request struct {
	Language   string
	SessionKey string
	// Seed mixes extra context (e.g. the turn's message ID) into variant
	// selection so consecutive turns rotate wording.
	Seed string
	// AvoidIndexes lists variant indexes recently used for this key; the
	// selector steps past them when an alternative exists.
	AvoidIndexes []int
	Variables    map[string]string
}

// Resolved is the selected localized message.
type Resolved struct {
	Text         string
	MessageKey   string
	VariantIndex int
}

// Catalog resolves message keys. Implementations must be safe for
// concurrent use.
type Catalog interface {
	Resolve(key string, req Request) (Resolved, error)
}

// Engine message keys. The literal texts are configuration; these keys are
// the engine's contract with the catalog.
const (
	KeySessionLocked    = "session.locked"
	KeyFallbackGeneric  = "fallback.generic"
	KeyInfraFallback    = "fallback.infra"
	KeyVerificationAsk  = "verification.ask"
	KeyCallbackAck      = "callback.ack"
	KeyCallbackAskName  = "callback.ask_name"
	KeyCallbackAskPhone = "callback.ask_phone"
	KeyRestrictedMode   = "restricted.redirect"
	KeyChatterGreeting  = "chatter.greeting"
	KeyChatterThanks    = "chatter.thanks"
	KeyChatterFiller    = "chatter.filler"
)

// Compile-time interface check.
var _ Catalog = (*StaticCatalog)(nil)

// StaticCatalog is an in-memory Catalog keyed by language then message key.
type StaticCatalog struct {
	variants    map[string]map[string][]string
	defaultLang string
}

// NewStaticCatalog creates a catalog over the given variant table. The
// default language is used when a key is missing for the requested one.
func NewStaticCatalog(variants map[string]map[string][]string, defaultLang string) *StaticCatalog {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &StaticCatalog{variants: variants, defaultLang: defaultLang}
}

// NewDefaultCatalog returns the built-in English catalog covering every
// engine key. Deployments replace it with their own localized tables.
func NewDefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(map[string]map[string][]string{
		"en": {
			KeySessionLocked: {
				"We can't continue with this request right now. Please contact support if you need help.",
			},
			KeyFallbackGeneric: {
				"Sorry, I couldn't complete that. Could you try rephrasing?",
				"I wasn't able to finish that request. Could you try again?",
			},
			KeyInfraFallback: {
				"We're having a temporary issue on our side. Please try again in a moment.",
			},
			KeyVerificationAsk: {
				"To protect your account, could you confirm your {field}?",
				"For security, please confirm your {field} first.",
			},
			KeyCallbackAck: {
				"Got it — someone from our team will call you back shortly.",
			},
			KeyCallbackAskName:  {"Who should we ask for when we call back?"},
			KeyCallbackAskPhone: {"What's the best number to reach you on?"},
			KeyRestrictedMode: {
				"I can help with questions about our products and services. For account-specific matters, please contact support directly.",
			},
			KeyChatterGreeting: {
				"Hi there! How can I help today?",
				"Hello! What can I do for you?",
				"Hey! How can I help?",
			},
			KeyChatterThanks: {
				"You're welcome! Anything else I can help with?",
				"Happy to help! Let me know if you need anything else.",
			},
			KeyChatterFiller: {
				"I'm here — what can I help you with?",
			},
		},
	}, "en")
}

// Resolve selects a variant deterministically and substitutes variables.
func (c *StaticCatalog) Resolve(key string, req Request) (Resolved, error) {
	variants := c.lookup(req.Language, key)
	if len(variants) == 0 {
		return Resolved{}, halodeskerr.New(halodeskerr.CodeCatalogKeyNotFound,
			"message key not found", halodeskerr.Field("message_key", key))
	}

	idx := pickVariant(key, req, len(variants))
	text := substitute(variants[idx], req.Variables)

	return Resolved{Text: text, MessageKey: key, VariantIndex: idx}, nil
}

// MustResolve resolves with a guaranteed non-empty result: an unknown key
// yields the generic fallback text. The engine never surfaces a blank reply.
func (c *StaticCatalog) MustResolve(key string, req Request) Resolved {
	res, err := c.Resolve(key, req)
	if err == nil {
		return res
	}

	res, err = c.Resolve(KeyFallbackGeneric, req)
	if err == nil {
		res.MessageKey = key
		return res
	}

	return Resolved{
		Text:       "Sorry, something went wrong. Please try again.",
		MessageKey: key,
	}
}

// MustResolveWith applies MustResolve semantics to any Catalog
// implementation.
func MustResolveWith(c Catalog, key string, req Request) Resolved {
	res, err := c.Resolve(key, req)
	if err == nil {
		return res
	}

	res, err = c.Resolve(KeyFallbackGeneric, req)
	if err == nil {
		res.MessageKey = key
		return res
	}

	return Resolved{
		Text:       "Sorry, something went wrong. Please try again.",
		MessageKey: key,
	}
}

func (c *StaticCatalog) lookup(lang, key string) []string {
	if lang != "" {
		if byKey, ok := c.variants[lang]; ok {
			if variants, ok := byKey[key]; ok {
				return variants
			}
		}
	}
	if byKey, ok := c.variants[c.defaultLang]; ok {
		return byKey[key]
	}
	return nil
}

// pickVariant hashes the stable inputs to an index, then steps past
// recently used variants when an alternative exists. With every variant
// avoided, the seeded choice stands.
func pickVariant(key string, req Request, n int) int {
	if n == 1 {
		return 0
	}

	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(req.SessionKey))
	h.Write([]byte{0})
	h.Write([]byte(req.Seed))
	idx := int(h.Sum64() % uint64(n))

	if len(req.AvoidIndexes) == 0 || len(req.AvoidIndexes) >= n {
		return idx
	}

	avoided := make(map[int]bool, len(req.AvoidIndexes))
	for _, a := range req.AvoidIndexes {
		avoided[a] = true
	}
	if len(avoided) >= n {
		return idx
	}

	for i := 0; i < n; i++ {
		candidate := (idx + i) % n
		if !avoided[candidate] {
			return candidate
		}
	}
	return idx
}

func substitute(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	oldnew := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		oldnew = append(oldnew, "{"+k+"}", v)
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}
