// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halodesk/halodesk/internal/config"
	"github.com/halodesk/halodesk/internal/secrets"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, configuration, storage, redis, provider API keys, and a running engine.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "127.0.0.1:8380", "engine address to check")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")

	cfg, cfgErr := config.FromViper(viper.GetViper())

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"Storage", func() string { return checkStorage(cfg) }},
		{"Redis", func() string { return checkRedis(cfg) }},
		{"Providers", func() string { return checkProviders(cfg) }},
		{"Engine", func() string { return checkEngine(addr) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-12s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("halodesk %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfgErr error) string {
	if cfgErr != nil {
		return fmt.Sprintf("INVALID — %v", cfgErr)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return fmt.Sprintf("OK (%s)", used)
	}
	return "OK (defaults + environment)"
}

func checkStorage(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	if cfg.Storage.Backend == "memory" {
		return "memory (non-durable)"
	}
	dir := filepath.Dir(cfg.Storage.Path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Sprintf("FAIL — directory %s not accessible", dir)
	}
	if _, err := os.Stat(cfg.Storage.Path); os.IsNotExist(err) {
		return fmt.Sprintf("OK (%s will be created)", cfg.Storage.Path)
	}
	return fmt.Sprintf("OK (%s)", cfg.Storage.Path)
}

func checkRedis(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	if cfg.Redis.Addr == "" {
		return "not configured (idempotency is per-instance)"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Sprintf("FAIL — %v", err)
	}
	return fmt.Sprintf("OK (%s)", cfg.Redis.Addr)
}

func checkProviders(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	if len(cfg.Providers) == 0 {
		return "none configured"
	}

	ks := secrets.NewKeyringStore()
	out := ""
	for _, name := range providerOrder(cfg) {
		if out != "" {
			out += ", "
		}
		if _, err := secrets.Resolve(ks, cfg.Providers[name].APIKey); err != nil {
			out += name + " (key unresolvable)"
		} else {
			out += name + " (key OK)"
		}
	}
	return out
}

func checkEngine(addr string) string {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return fmt.Sprintf("not running at %s", addr)
	}
	defer resp.Body.Close()

	var body struct {
		Status    string `json:"status"`
		Providers []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status == "" {
		return fmt.Sprintf("unexpected response from %s", addr)
	}

	healthy := 0
	for _, p := range body.Providers {
		if p.Available {
			healthy++
		}
	}
	return fmt.Sprintf("%s (%d/%d providers available)", body.Status, healthy, len(body.Providers))
}
