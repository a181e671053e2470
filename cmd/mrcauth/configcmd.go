// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/mrcsystems/mrcauth/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a config file without starting the server",
		Long: `Checks FILE against the configuration schema, then loads it with the
environment applied and validates the result. Does NOT connect to any
database. Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines:
  mrcauth config validate /etc/mrcauth/config.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Println(string(schema))
			return nil
		},
	})

	return cmd
}

func runConfigValidate(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := config.ValidateSchema(data); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	cfg, err := config.Load(config.LoadOptions{Path: path})
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	cmd.Printf("%s is valid\n", path)
	return nil
}
