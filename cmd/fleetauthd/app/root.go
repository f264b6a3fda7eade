// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the fleetauthd command-line
// application.
package app

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:               "fleetauthd",
	DisableAutoGenTag: true,
	Short:             "OAuth 2.1 authorization server for MCP service fleets",
	Long: `fleetauthd is an OAuth 2.1 authorization server that fronts a fleet of
MCP services behind an edge router. Agents discover it through RFC 8414
metadata, register themselves dynamically (RFC 7591), and authenticate end
users through GitHub. The edge router gates every request to a protected
service through the /verify forward-auth endpoint.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

// NewRootCmd creates a new root command for the fleetauthd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}

func setupLogging() {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
