// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// Config is the top-level Halodesk configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Idempotency IdempotencyConfig         `mapstructure:"idempotency"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Models      ModelsConfig              `mapstructure:"models"`
	Guard       GuardConfig               `mapstructure:"guard"`
	Flows       FlowsConfig               `mapstructure:"flows"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig selects the session/draft/audit storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RedisConfig points at the idempotency cache. An empty address selects
// the in-process cache, which is only safe for a single instance.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IdempotencyConfig tunes the tool-call result cache.
type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
// APIKey accepts env: and keyring: references, resolved at startup.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// ModelsConfig selects the completion and classifier models in
// "provider/model" form.
type ModelsConfig struct {
	Completion string   `mapstructure:"completion"`
	Failover   []string `mapstructure:"failover"`
	Classifier string   `mapstructure:"classifier"`
}

// GuardConfig tunes the anti-enumeration session lock.
type GuardConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// FlowsConfig points at the flow/tool definition file. Empty means the
// built-in flow set.
type FlowsConfig struct {
	File string `mapstructure:"file"`
}

// SetDefaults installs the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8380")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "halodesk.db")
	v.SetDefault("idempotency.ttl", "168h")
	v.SetDefault("models.completion", "anthropic/claude-sonnet-4-5")
	v.SetDefault("models.classifier", "openai/gpt-4.1-mini")
	v.SetDefault("guard.threshold", 3)
	v.SetDefault("guard.window", "10m")
}

// SetupEnv binds environment variable overrides (prefix HALODESK_).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("HALODESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper unmarshals and validates a configured viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, hderr.Errorf(hderr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, hderr.Errorf(hderr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, hderr.Errorf(hderr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// Validate checks the configuration for logical errors. It collects all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateGuard()...)

	if c.Idempotency.TTL <= 0 {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: idempotency.ttl must be greater than 0, got %s", c.Idempotency.TTL))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	errs = append(errs, c.validateModelRef("models.completion", c.Models.Completion, true)...)
	errs = append(errs, c.validateModelRef("models.classifier", c.Models.Classifier, false)...)
	for i, model := range c.Models.Failover {
		key := "models.failover[" + strconv.Itoa(i) + "]"
		errs = append(errs, c.validateModelRef(key, model, true)...)
	}

	return errs
}

// validateModelRef checks "provider/model" format and, when a providers
// section is configured, that the provider exists. The classifier is
// optional; an empty value disables intent classification.
func (c *Config) validateModelRef(key, model string, required bool) []error {
	var errs []error

	if model == "" {
		if required {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"config: %s must not be empty", key))
		}
		return errs
	}
	if !strings.Contains(model, "/") {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: %s must be in \"provider/model\" format, got %q", key, model))
		return errs
	}
	if c.Providers != nil {
		name := ProviderFromModel(model)
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"config: %s %q references provider %q which is not configured", key, model, name))
		}
	}

	return errs
}

func (c *Config) validateGuard() []error {
	var errs []error

	if c.Guard.Threshold <= 0 {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: guard.threshold must be greater than 0, got %d", c.Guard.Threshold))
	}
	if c.Guard.Window <= 0 {
		errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
			"config: guard.window must be greater than 0, got %s", c.Guard.Window))
	}

	return errs
}

// ProviderFromModel extracts the provider prefix from a "provider/model"
// string.
func ProviderFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}

// ModelFromRef extracts the model suffix from a "provider/model" string.
func ModelFromRef(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 && idx+1 < len(model) {
		return model[idx+1:]
	}
	return model
}
