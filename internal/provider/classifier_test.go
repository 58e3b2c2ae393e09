// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMClassifier_ParsesVerdict(t *testing.T) {
	fc := &fakeCompleter{name: "fake", available: true, comp: &Completion{
		Text: `{"intent": "callback_request", "confidence": 0.92, "topic": "call me back"}`,
	}}
	c := NewLLMClassifier(fc, "", 0, nil)

	cls, err := c.Classify(context.Background(), "can someone call me", nil, "en")
	require.NoError(t, err)
	assert.Equal(t, IntentCallbackRequest, cls.Intent)
	assert.InDelta(t, 0.92, cls.Confidence, 0.001)
	assert.Equal(t, "call me back", cls.Topic)
}

func TestLLMClassifier_UnwrapsFencedJSON(t *testing.T) {
	fc := &fakeCompleter{name: "fake", available: true, comp: &Completion{
		Text: "```json\n{\"intent\": \"order_status\", \"confidence\": 0.7}\n```",
	}}
	c := NewLLMClassifier(fc, "", 0, nil)

	cls, err := c.Classify(context.Background(), "where is my order", nil, "")
	require.NoError(t, err)
	assert.Equal(t, IntentOrderStatus, cls.Intent)
}

func TestLLMClassifier_FailsOpenOnUpstreamError(t *testing.T) {
	fc := &fakeCompleter{name: "fake", available: true, err: errors.New("upstream down")}
	c := NewLLMClassifier(fc, "", 0, nil)

	cls, err := c.Classify(context.Background(), "hello", nil, "")
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, cls.Intent)
	assert.Zero(t, cls.Confidence)
}

func TestLLMClassifier_FailsOpenOnGarbage(t *testing.T) {
	for _, raw := range []string{"", "sure, happy to help!", "{not json}", "{{{"} {
		fc := &fakeCompleter{name: "fake", available: true, comp: &Completion{Text: raw}}
		c := NewLLMClassifier(fc, "", 0, nil)

		cls, err := c.Classify(context.Background(), "hello", nil, "")
		require.NoError(t, err, "raw=%q", raw)
		assert.Equal(t, IntentUnknown, cls.Intent, "raw=%q", raw)
	}
}

func TestLLMClassifier_ClampsConfidence(t *testing.T) {
	fc := &fakeCompleter{name: "fake", available: true, comp: &Completion{
		Text: `{"intent": "chatter", "confidence": 7.5}`,
	}}
	c := NewLLMClassifier(fc, "", 0, nil)

	cls, err := c.Classify(context.Background(), "hi", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cls.Confidence)
}

func TestLLMClassifier_EmptyIntentDefaultsToUnknown(t *testing.T) {
	fc := &fakeCompleter{name: "fake", available: true, comp: &Completion{
		Text: `{"confidence": 0.5}`,
	}}
	c := NewLLMClassifier(fc, "", 0, nil)

	cls, err := c.Classify(context.Background(), "hmm", nil, "")
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, cls.Intent)
}
