// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halodesk/halodesk/internal/config"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the halodesk engine",
		Long:  "Load configuration, wire all subsystems, and serve the turn and draft APIs.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	logger := buildLogger(viper.GetBool("verbose"))
	slog.SetDefault(logger)

	eng, err := WireEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.RunJanitor(ctx, 5*time.Minute)

	logger.Info("halodesk listening",
		"addr", cfg.Server.Listen,
		"storage", cfg.Storage.Backend,
		"providers", eng.Providers.Adapters())

	if err := eng.Server.Start(ctx); err != nil {
		return hderr.Wrap(err, hderr.CodeServerStartFailure, "running HTTP server")
	}
	logger.Info("halodesk stopped")
	return nil
}

func buildLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
