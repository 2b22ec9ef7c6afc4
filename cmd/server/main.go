// Package main is the entry point for the catalog server.
//
// The binary is a small cobra CLI:
//
//	server               → same as "server serve"
//	server serve         → run the HTTP server until SIGINT/SIGTERM
//	server migrate       → apply pending database migrations and exit
//	server create-admin  → create or promote an administrator
//
// All actual logic lives in internal/; this package only loads config and
// hands it to the right component.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/catalog/internal/config"
	"github.com/sakif/catalog/internal/server"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Product catalog web application",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createAdminCmd)
}

// boot loads config and builds the process logger. The logger is also made
// the slog default so packages without an injected logger agree with it.
func boot() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := ensureDBDir(cfg.DBPath); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// ensureDBDir creates the database's parent directory (like `mkdir -p`).
func ensureDBDir(dbPath string) error {
	if dbPath == "" || dbPath[0] == ':' {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := boot()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Run blocks until the server is shut down (via Ctrl+C or SIGTERM).
	return srv.Run(ctx)
}
