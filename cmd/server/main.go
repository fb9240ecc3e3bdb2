// Package main is the entry point for the essence server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (config.Load reads ESSENCE_* env vars)
// 2. Create process-wide dependencies (logger, password hasher)
// 3. Start the application
//
// All actual logic lives in internal/. The cmd/ directory is the Go
// convention for executable entry points.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/config"
	"github.com/sakif/essence/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		// No configured logger yet, so fall back to the default one.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. Skipped for in-memory databases.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. PASSWORD HASHER ===
	// Installed once per process. Without a secret the hashes still work
	// but aren't peppered.
	if cfg.HasherSecret == "" {
		logger.Warn("HASHER_SECRET not set, password hashes are not peppered")
	}
	auth.ConfigureHasher(cfg.HasherConfig())

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, server.Deps{
		Hasher: auth.DefaultHasher(),
	}, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
