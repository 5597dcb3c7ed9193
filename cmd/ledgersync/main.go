// Command ledgersync keeps a reconciled, threaded view of ledger records
// and serves it over HTTP.
//
// @title        Ledger Sync API
// @version      1.0
// @description  Reconciled, threaded view of ledger records with optimistic local submissions.
// @license.name MIT
// @BasePath     /api/v1
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-ledger-sync/internal/config"
	"github.com/tbourn/go-ledger-sync/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Reconcile ledger records into a live threaded view",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env when present)")

	root.AddCommand(newServeCmd(), newSnapshotCmd())
	return root
}

// loadEnv applies a dotenv file without overriding variables that are
// already set. A missing default .env is not an error.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// setup loads config and installs the global logger.
func setup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.OTEL.ServiceName, cfg.LogPretty)
	log.Debug().Str("version", version).Msg("configuration loaded")
	return cfg, nil
}
