// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/config"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8380", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.Models.Completion)
	assert.Equal(t, 3, cfg.Guard.Threshold)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "halodesk.yaml")

	content := `
server:
  listen: "0.0.0.0:9999"
models:
  completion: "openai/gpt-4.1"
  classifier: ""
providers:
  openai:
    api_key: "test-key"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	assert.Equal(t, "openai/gpt-4.1", cfg.Models.Completion)
	assert.Empty(t, cfg.Models.Classifier)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HALODESK_SERVER_LISTEN", "10.0.0.1:8080")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
}

// validConfig returns a minimal config that passes all validation.
func validConfig() *config.Config {
	return &config.Config{
		Server:      config.ServerConfig{Listen: "127.0.0.1:8380"},
		Storage:     config.StorageConfig{Backend: "sqlite", Path: "halodesk.db"},
		Idempotency: config.IdempotencyConfig{TTL: 24 * time.Hour},
		Providers: map[string]config.ProviderConfig{
			"anthropic": {APIKey: "test-key"},
		},
		Models: config.ModelsConfig{Completion: "anthropic/claude-sonnet-4-5"},
		Guard:  config.GuardConfig{Threshold: 3, Window: 10 * time.Minute},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestValidate_ServerListen(t *testing.T) {
	tests := []struct {
		name    string
		listen  string
		wantErr bool
	}{
		{"valid address", "127.0.0.1:8080", false},
		{"valid all interfaces", "0.0.0.0:9999", false},
		{"valid ipv6", "[::1]:8080", false},
		{"empty listen", "", true},
		{"missing port", "127.0.0.1", true},
		{"port zero", "127.0.0.1:0", true},
		{"port too high", "127.0.0.1:70000", true},
		{"not a number", "127.0.0.1:abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Listen = tt.listen
			errs := cfg.Validate()
			if tt.wantErr {
				require.NotEmpty(t, errs)
				assert.Contains(t, errs[0].Error(), "server.listen")
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestValidate_Storage(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "postgres"
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "storage.backend")

	cfg = validConfig()
	cfg.Storage.Path = ""
	errs = cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "storage.path")

	cfg = validConfig()
	cfg.Storage.Backend = "memory"
	cfg.Storage.Path = ""
	assert.Empty(t, cfg.Validate())
}

func TestValidate_ModelRefs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "empty completion",
			mutate:  func(c *config.Config) { c.Models.Completion = "" },
			wantErr: "models.completion",
		},
		{
			name:    "no slash",
			mutate:  func(c *config.Config) { c.Models.Completion = "plain-model" },
			wantErr: "provider/model",
		},
		{
			name:    "missing provider",
			mutate:  func(c *config.Config) { c.Models.Completion = "openai/gpt-4.1" },
			wantErr: "not configured",
		},
		{
			name:    "failover missing provider",
			mutate:  func(c *config.Config) { c.Models.Failover = []string{"openai/gpt-4.1"} },
			wantErr: "models.failover[0]",
		},
		{
			name:    "empty classifier is fine",
			mutate:  func(c *config.Config) { c.Models.Classifier = "" },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.wantErr) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got: %v", tt.wantErr, errs)
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &config.Config{
		Server:  config.ServerConfig{Listen: ""},
		Storage: config.StorageConfig{Backend: "postgres"},
		Models:  config.ModelsConfig{Completion: ""},
	}
	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 4)
}

func TestProviderFromModel(t *testing.T) {
	assert.Equal(t, "anthropic", config.ProviderFromModel("anthropic/claude-sonnet-4-5"))
	assert.Equal(t, "gpt-4.1", config.ProviderFromModel("gpt-4.1"))
	assert.Equal(t, "claude-sonnet-4-5", config.ModelFromRef("anthropic/claude-sonnet-4-5"))
	assert.Equal(t, "gpt-4.1", config.ModelFromRef("gpt-4.1"))
}
