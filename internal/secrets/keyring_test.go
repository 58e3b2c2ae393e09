// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/halodesk/halodesk/internal/secrets"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

func init() {
	// Keep tests off the real OS keyring.
	keyring.MockInit()
}

func TestKeyringStore_SetAndGet(t *testing.T) {
	ks := secrets.NewKeyringStore()

	require.NoError(t, ks.Set("halodesk-test", "anthropic", "sk-ant-123"))

	val, err := ks.Get("halodesk-test", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", val)
}

func TestKeyringStore_GetNotFound(t *testing.T) {
	ks := secrets.NewKeyringStore()

	_, err := ks.Get("no-such-service", "no-key")
	require.Error(t, err)
	assert.True(t, hderr.HasCode(err, hderr.CodeSecretNotFound), "expected CodeSecretNotFound, got: %v", err)
}

func TestKeyringStore_Delete(t *testing.T) {
	ks := secrets.NewKeyringStore()

	require.NoError(t, ks.Set("halodesk-del", "openai", "sk-oai"))
	require.NoError(t, ks.Delete("halodesk-del", "openai"))

	_, err := ks.Get("halodesk-del", "openai")
	require.Error(t, err)

	err = ks.Delete("halodesk-del", "openai")
	require.Error(t, err)
	assert.True(t, hderr.HasCode(err, hderr.CodeSecretNotFound))
}

func TestKeyringStore_EmptyInputs(t *testing.T) {
	ks := secrets.NewKeyringStore()

	assert.Error(t, ks.Set("", "k", "v"))
	_, err := ks.Get("svc", "")
	assert.Error(t, err)
}
