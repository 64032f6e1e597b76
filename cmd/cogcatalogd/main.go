// Package main implements the entry point for the catalog service.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/trinetra-eo/cogcatalog/internal/config"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootCmd serves the catalog when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "cogcatalogd [command] [flags]",
	Short: "COG metadata catalog service",
	Long: `cogcatalogd stores and serves metadata for Cloud-Optimized GeoTIFFs
produced by satellite ground processing.

Examples:
  # Run the HTTP service (default)
  cogcatalogd serve

  # Remove cogs acquired more than 90 days ago
  cogcatalogd purge --days 90`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

func init() {
	rootCmd.Version = version
	serve := newServeCmd()
	rootCmd.Flags().AddFlagSet(serve.Flags())
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newPurgeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging installs the JSON slog handler; dev runs at debug level.
func setupLogging(cfg config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.IsDev() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStore builds the configured backend and a func releasing it.
func openStore(cfg config.Config) (storage.Store, func(), error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Store {
	case config.StorePostgres:
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
	case config.StoreMongo:
		store, err = storage.NewMongo(cfg.MongoURI, cfg.MongoDB)
	case config.StoreMemory:
		store = storage.NewMemory()
	default:
		err = errors.New("unknown store " + cfg.Store)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Store, err)
	}

	closeFn := func() {}
	if c, ok := store.(interface{ Close() }); ok {
		closeFn = c.Close
	}
	return store, closeFn, nil
}
