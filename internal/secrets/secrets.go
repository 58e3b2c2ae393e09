// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package secrets

// Store provides secure secret storage operations. Implementations may
// use OS keyrings, encrypted files, or other backends.
type Store interface {
	// Set saves a secret value under the given service and key.
	Set(service, key, value string) error

	// Get fetches the secret value for the given service and key.
	// Returns CodeSecretNotFound (via hderr.HasCode) when absent.
	Get(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	Delete(service, key string) error
}
