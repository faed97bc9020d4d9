// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"errors"

	"github.com/dossier-dev/dossier/internal/config"
	dserr "github.com/dossier-dev/dossier/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd creates the root dossier command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dossier",
		Short:         "Dossier — document ingestion and retrieval engine",
		Long:          "Dossier OCRs scanned documents, embeds the text, and answers questions over an owner-scoped vector index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags — these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newDeleteCmd(),
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
			return dserr.Errorf(dserr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover dossier.yaml from standard locations. Absence is
		// fine — defaults and env vars still apply; parse or permission
		// errors must surface.
		v.SetConfigName("dossier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dossier")
		v.AddConfigPath("/etc/dossier")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return dserr.Errorf(dserr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return dserr.Errorf(dserr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return dserr.Errorf(dserr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// loadConfig resolves the effective configuration from the global Viper.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}
