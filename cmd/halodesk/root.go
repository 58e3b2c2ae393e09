// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/halodesk/halodesk/internal/config"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// NewRootCmd creates the root halodesk command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "halodesk",
		Short:         "Halodesk — turn orchestration engine for support conversations",
		Long:          "Halodesk runs the tool-calling loop, guardrails, and routing for a customer support agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return hderr.Errorf(hderr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		v.SetConfigName("halodesk")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/halodesk")
		v.AddConfigPath("/etc/halodesk")
		// No config file is fine: defaults and env vars still apply.
		// Parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return hderr.Errorf(hderr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return hderr.Errorf(hderr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}
