// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/secrets"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

func TestResolve_Literal(t *testing.T) {
	val, err := secrets.Resolve(nil, "sk-plain-literal")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain-literal", val)
	assert.False(t, secrets.IsReference("sk-plain-literal"))
}

func TestResolve_Env(t *testing.T) {
	t.Setenv("HALODESK_TEST_KEY", "sk-from-env")

	val, err := secrets.Resolve(nil, "env:HALODESK_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", val)
	assert.True(t, secrets.IsReference("env:HALODESK_TEST_KEY"))
}

func TestResolve_EnvMissing(t *testing.T) {
	_, err := secrets.Resolve(nil, "env:HALODESK_DEFINITELY_UNSET")
	require.Error(t, err)
	assert.True(t, hderr.HasCode(err, hderr.CodeSecretNotFound))
}

func TestResolve_Keyring(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Set("halodesk-resolve", "anthropic", "sk-from-keyring"))

	val, err := secrets.Resolve(ks, "keyring:halodesk-resolve/anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-keyring", val)
}

func TestResolve_KeyringMalformed(t *testing.T) {
	ks := secrets.NewKeyringStore()

	for _, ref := range []string{"keyring:", "keyring:onlyservice", "keyring:/key", "keyring:svc/"} {
		_, err := secrets.Resolve(ks, ref)
		assert.Error(t, err, "reference %q should be rejected", ref)
	}
}

func TestResolve_KeyringWithoutStore(t *testing.T) {
	_, err := secrets.Resolve(nil, "keyring:svc/key")
	require.Error(t, err)
	assert.True(t, hderr.HasCode(err, hderr.CodeSecretBackendFailure))
}
