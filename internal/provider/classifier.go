// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultClassifyTimeout bounds a single classifier round trip. Routing
// treats a slow classifier the same as a failed one.
const DefaultClassifyTimeout = 3 * time.Second

// Known intents emitted by the classifier prompt. Anything else the model
// invents is passed through verbatim; routing only switches on these.
const (
	IntentCallbackRequest = "callback_request"
	IntentOrderStatus     = "order_status"
	IntentStockLookup     = "stock_lookup"
	IntentComplaint       = "complaint"
	IntentChatter         = "chatter"
	IntentUnknown         = "unknown"
)

const classifySystemPrompt = `You label customer support messages. Reply with a single JSON object and nothing else:
{"intent": "<callback_request|order_status|stock_lookup|complaint|chatter|unknown>", "confidence": <0.0-1.0>, "topic": "<short free text>"}
Use "unknown" when unsure. Do not add markdown fences or commentary.`

// ClassifyCompleter is the slice of a completer the classifier needs; the
// Router satisfies it without being a full adapter.
type ClassifyCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// LLMClassifier labels messages by asking a small completion model for a
// JSON verdict. Every failure mode (upstream error, timeout, malformed
// reply) degrades to a neutral classification; Classify never returns a
// non-nil error alongside a nil result.
type LLMClassifier struct {
	completer ClassifyCompleter
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier wraps a completer as a classifier. An empty model falls
// back to whatever the completer's default is; a zero timeout uses
// DefaultClassifyTimeout.
func NewLLMClassifier(completer ClassifyCompleter, model string, timeout time.Duration, logger *slog.Logger) *LLMClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{completer: completer, model: model, timeout: timeout, logger: logger}
}

// Classify labels one message. History gives the model a little context;
// only the last few entries are forwarded.
func (c *LLMClassifier) Classify(ctx context.Context, text string, history []Message, language string) (*Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildClassifyPrompt(text, history, language)
	comp, err := c.completer.Complete(ctx, CompletionRequest{
		Model:     c.model,
		System:    classifySystemPrompt,
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens: 200,
	})
	if err != nil {
		c.logger.Warn("classifier call failed, falling back to neutral", "error", err)
		return NeutralClassification(), nil
	}

	cls, err := parseClassification(comp.Text)
	if err != nil {
		c.logger.Warn("classifier returned malformed verdict, falling back to neutral",
			"error", err, "raw", truncate(comp.Text, 200))
		return NeutralClassification(), nil
	}
	return cls, nil
}

func buildClassifyPrompt(text string, history []Message, language string) string {
	var sb strings.Builder
	if language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", language)
	}
	const maxHistory = 4
	if n := len(history); n > 0 {
		start := 0
		if n > maxHistory {
			start = n - maxHistory
		}
		sb.WriteString("Recent conversation:\n")
		for _, m := range history[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&sb, "Message to label: %s", text)
	return sb.String()
}

// parseClassification extracts the JSON verdict from the model text.
// Models occasionally wrap the object in fences or prose, so the first
// balanced object in the text is used.
func parseClassification(text string) (*Classification, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier reply")
	}
	var cls Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cls); err != nil {
		return nil, err
	}
	if cls.Intent == "" {
		cls.Intent = IntentUnknown
	}
	if cls.Confidence < 0 {
		cls.Confidence = 0
	}
	if cls.Confidence > 1 {
		cls.Confidence = 1
	}
	return &cls, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
