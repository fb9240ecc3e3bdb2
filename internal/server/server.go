// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services,
// handlers and middleware, and decides:
//   - Which URL patterns map to which handler functions
//   - Which routes need a token
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go loads config.Config and configures the password hasher, then
//	server.New creates:
//	  sqlite.DB, cache (Redis or Noop), snowflake.Generator
//	    → AuthService, PermissionService, GuildService, MessageService
//	    → AuthHandler, GuildHandler, MessageHandler
//
// This is the "composition root": all dependencies are wired in one place.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/cache"
	"github.com/sakif/essence/internal/config"
	"github.com/sakif/essence/internal/handler"
	"github.com/sakif/essence/internal/middleware"
	sqliteRepo "github.com/sakif/essence/internal/repository/sqlite"
	"github.com/sakif/essence/internal/service"
	"github.com/sakif/essence/internal/snowflake"
)

// Deps are the collaborators New cannot build from config alone.
type Deps struct {
	// Hasher is usually auth.DefaultHasher(). Tests pass a cheap one.
	Hasher *auth.Hasher
	// Codes delivers email verification codes. Nil logs them at debug level.
	Codes handler.CodeSender
	// Cache overrides the cache chosen from config. Tests use it to
	// inject a miniredis-backed cache.
	Cache cache.Cache
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when it opened one, the
// Redis client. Close releases both; Start calls it on the way out.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	cache  cache.Cache
}

// New opens the stores named in cfg and wires every service and handler.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it can't be confused
// with the sqlite driver package.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Hasher == nil {
		return nil, errors.New("server: no password hasher")
	}
	if deps.Codes == nil {
		deps.Codes = handler.LogCodeSender{Logger: logger}
	}

	ids, err := snowflake.NewGenerator(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("creating id generator: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === CREATE CACHE ===
	c := deps.Cache
	if c == nil {
		c, err = openCache(ctx, cfg, logger)
		if err != nil {
			db.Close() // Clean up DB if the cache can't be reached
			return nil, err
		}
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		cache:  c,
	}
	s.setupRoutes(ids, deps)

	return s, nil
}

// openCache connects to Redis when REDIS_ADDR is set. Without it every
// lookup goes to SQLite.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, running without a cache")
		return cache.Noop{}, nil
	}

	r, err := cache.NewRedis(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return r, nil
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (logged by Logger)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
//
// Everything except registration and login runs behind auth.RequireAuth.
func (s *Server) setupRoutes(ids *snowflake.Generator, deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// DEPENDENCY CHAIN:
	//   s.db implements every repository interface
	//   services receive the repositories and the cache
	//   handlers receive the services
	authService := service.NewAuthService(s.db, s.db, s.cache, deps.Hasher, ids, s.logger)
	permService := service.NewPermissionService(s.db, s.db, s.db, s.cache, s.logger)
	guildService := service.NewGuildService(s.db, s.db, s.db, s.db, permService, s.cache, ids, s.logger)
	messageService := service.NewMessageService(s.db, permService, ids, s.logger)

	authHandler := handler.NewAuthHandler(authService, deps.Codes, s.logger)
	guildHandler := handler.NewGuildHandler(guildService, permService, s.logger)
	messageHandler := handler.NewMessageHandler(messageService, s.logger)

	authHandler.PublicRoutes(s.router)
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authService))
		authHandler.Routes(r)
		guildHandler.Routes(r)
		messageHandler.Routes(r)
	})
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and, if one is open, the Redis client.
func (s *Server) Close() error {
	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if r, ok := s.cache.(*cache.Redis); ok {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait up to SHUTDOWN_TIMEOUT for in-flight requests to finish
// 3. Close the database and the cache connection
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("cache", s.config.RedisAddr != ""),
			slog.Int("node", s.config.NodeID),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
