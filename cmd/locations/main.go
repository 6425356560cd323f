// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/mylocations/internal/config"
)

var version = "dev"

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage saved locations",
	Long: `List, add, retag and remove the locations saved by the MyLocations web server.

The database path is read from the configuration file unless --db is given.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database (overrides DB_PATH)")

	rootCmd.AddCommand(listCmd, addCmd, tagCmd, rmCmd, categoriesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
