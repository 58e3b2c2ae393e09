// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package secrets

import (
	"os"
	"strings"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

const (
	envScheme     = "env:"
	keyringScheme = "keyring:"
)

// IsReference reports whether value is an env: or keyring: secret
// reference rather than a literal.
func IsReference(value string) bool {
	return strings.HasPrefix(value, envScheme) || strings.HasPrefix(value, keyringScheme)
}

// Resolve dereferences a secret reference. "env:NAME" reads the
// environment, "keyring:service/key" reads the OS keyring; anything else
// is returned unchanged as a literal.
func Resolve(store Store, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envScheme):
		name := strings.TrimPrefix(value, envScheme)
		if name == "" {
			return "", hderr.Errorf(hderr.CodeSecretNotFound, "empty env reference %q", value)
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", hderr.Errorf(hderr.CodeSecretNotFound, "environment variable %s is not set", name)
		}
		return val, nil

	case strings.HasPrefix(value, keyringScheme):
		if store == nil {
			return "", hderr.New(hderr.CodeSecretBackendFailure, "no keyring store configured")
		}
		path := strings.TrimPrefix(value, keyringScheme)
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", hderr.Errorf(hderr.CodeSecretNotFound,
				"invalid keyring reference %q: expected keyring:service/key", value)
		}
		secret, err := store.Get(parts[0], parts[1])
		if err != nil {
			return "", hderr.Wrapf(err, hderr.CodeOf(err), "resolving %q", value)
		}
		return secret, nil

	default:
		return value, nil
	}
}
