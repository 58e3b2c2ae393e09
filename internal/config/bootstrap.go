// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package config

import (
	_ "embed"
	"os"
	"path/filepath"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

//go:embed flows.yaml.default
var defaultFlowsYAML []byte

// DefaultFlows returns the built-in flow set, used when no flows file is
// configured.
func DefaultFlows() *FlowSet {
	set, err := ParseFlows(defaultFlowsYAML)
	if err != nil {
		// The embedded file ships with the binary; a parse failure is a
		// build defect, not a runtime condition.
		panic(err)
	}
	return set
}

// DefaultConfigPath returns ~/.config/halodesk/halodesk.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", hderr.Errorf(hderr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "halodesk", "halodesk.yaml"), nil
}
