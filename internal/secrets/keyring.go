// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// KeyringStore implements Store using the OS keyring via
// zalando/go-keyring. On macOS this is Keychain, on Linux
// secret-service (D-Bus), and on Windows the Credential Manager.
type KeyringStore struct{}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Set(service, key, value string) error {
	if service == "" || key == "" {
		return hderr.New(hderr.CodeSecretBackendFailure, "secret set: service and key must not be empty")
	}
	if err := keyring.Set(service, key, value); err != nil {
		return hderr.Wrapf(err, hderr.CodeSecretBackendFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (s *KeyringStore) Get(service, key string) (string, error) {
	if service == "" || key == "" {
		return "", hderr.New(hderr.CodeSecretBackendFailure, "secret get: service and key must not be empty")
	}
	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", hderr.Errorf(hderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", hderr.Wrapf(err, hderr.CodeSecretBackendFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if service == "" || key == "" {
		return hderr.New(hderr.CodeSecretBackendFailure, "secret delete: service and key must not be empty")
	}
	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return hderr.Errorf(hderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return hderr.Wrapf(err, hderr.CodeSecretBackendFailure, "deleting secret %s/%s", service, key)
	}
	return nil
}
