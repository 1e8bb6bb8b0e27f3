package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/dperf/pkg/api"
	"github.com/ethpandaops/dperf/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collection server",
	Long:  `Start the HTTP server that accepts, stores and serves runs.`,
	RunE:  runServe,
}

func init() {
	addConfigFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

// addConfigFlags registers the flags that override configuration keys.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("listen", config.DefaultListen, "HTTP listen address")
	fs.String("db-driver", "sqlite", "database driver (sqlite, postgres)")
	fs.String("db-host", "localhost", "postgres host")
	fs.Int("db-port", 5432, "postgres port")
	fs.String("db-name", config.DefaultDatabaseName, "postgres database name")
	fs.String("sqlite-path", "dperf.db", "sqlite database file")
}

// loadConfig loads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := api.NewServer(log, cfg)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}

	return nil
}
