// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/mrcsystems/mrcauth/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the mrcauth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mrcauth",
		Short: "mrcauth - MRC credential verification and session service",
		Long: `mrcauth verifies member credentials, issues signed session tokens,
locks out repeated password guessing and runs the password reset flow.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewMemberCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig reads the config file, environment and any changed flags on
// cmd. It does not validate.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(config.LoadOptions{Path: configFile, Flags: cmd.Flags()}) //nolint:wrapcheck // already coded
}
