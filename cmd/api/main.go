// Package main provides the entry point for the privacy request engine's
// API server: the privacy-request lifecycle endpoints (submit, status,
// dry-run, stream) described in SPEC_FULL.md.
//
// Usage:
//
//	go run ./cmd/api
//
// Environment variables:
//
//	DATABASE_URL   - PostgreSQL connection string for this service's own store
//	REDIS_URL      - Redis connection URL
//	NATS_URL       - NATS server URL
//	KEYCLOAK_URL   - Keycloak server URL
//	KEYCLOAK_REALM - Keycloak realm name
//	SERVER_PORT    - API server port (default: 8080)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/privacygraph/internal/api"
	"github.com/medisync/privacygraph/internal/auth"
	"github.com/medisync/privacygraph/internal/cache"
	"github.com/medisync/privacygraph/internal/config"
	"github.com/medisync/privacygraph/internal/events"
	"github.com/medisync/privacygraph/internal/store"
)

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps, err := initializeDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}

	server := api.NewServer(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	closeDependencies(deps, logger)
	logger.Info("API server stopped")
}

// setupLogger creates and configures the structured logger.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("APP_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// initializeDependencies creates and initializes all required dependencies.
func initializeDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*api.Dependencies, error) {
	deps := &api.Dependencies{}

	db, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	deps.Store = db

	cacheClient, err := initCache(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Redis cache not available, rate limiting and token caching are disabled", slog.Any("error", err))
	} else {
		deps.Cache = cacheClient
	}

	if cacheClient != nil {
		keycloakValidator, err := initKeycloak(cfg, cacheClient, logger)
		if err != nil {
			logger.Warn("Keycloak validator not available, auth middleware is disabled", slog.Any("error", err))
			if cfg.IsProduction() {
				return nil, fmt.Errorf("keycloak: %w", err)
			}
		} else {
			deps.Keycloak = keycloakValidator
		}
	}

	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		logger.Warn("NATS publisher not available, workers will not be notified of new requests", slog.Any("error", err))
		if cfg.IsProduction() {
			return nil, fmt.Errorf("events: %w", err)
		}
	} else {
		deps.Publisher = publisher
	}

	return deps, nil
}

// initStore initializes the privacy request store's connection pool.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Name),
	)

	return store.New(pool, logger), nil
}

// initCache initializes the Redis cache client.
func initCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Client, error) {
	cacheConfig := cache.ClientConfig{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	}

	cacheClient, err := cache.NewClient(cacheConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache client: %w", err)
	}

	logger.Info("cache connection established",
		slog.String("host", cfg.Redis.Host),
		slog.Int("database", cfg.Redis.Database),
	)

	return cacheClient, nil
}

// initKeycloak initializes the Keycloak token validator, reusing the
// cache client's Redis connection for cached token validations.
func initKeycloak(cfg *config.Config, cacheClient *cache.Client, logger *slog.Logger) (*auth.KeycloakValidator, error) {
	validator, err := auth.NewKeycloakValidator(&auth.KeycloakConfig{
		URL:      cfg.Keycloak.URL,
		Realm:    cfg.Keycloak.Realm,
		Timeout:  cfg.Keycloak.Timeout,
		CacheTTL: cfg.Keycloak.CacheTTL,
		Logger:   logger,
	}, cacheClient.Raw())
	if err != nil {
		return nil, fmt.Errorf("failed to create Keycloak validator: %w", err)
	}

	logger.Info("Keycloak validator initialized",
		slog.String("url", cfg.Keycloak.URL),
		slog.String("realm", cfg.Keycloak.Realm),
	)

	return validator, nil
}

// initPublisher initializes the NATS event publisher used to notify
// workers that a privacy request is ready to run.
func initPublisher(cfg *config.Config, logger *slog.Logger) (*events.Publisher, error) {
	publisher, err := events.NewPublisher(events.PublisherConfig{
		URL:           cfg.NATS.URL,
		Name:          "privacygraph-api",
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	logger.Info("NATS publisher initialized", slog.String("url", cfg.NATS.URL))
	return publisher, nil
}

// closeDependencies closes all dependencies gracefully.
func closeDependencies(deps *api.Dependencies, logger *slog.Logger) {
	if deps.Store != nil {
		deps.Store.Close()
	}

	if deps.Cache != nil {
		if err := deps.Cache.Close(); err != nil {
			logger.Error("failed to close cache", slog.Any("error", err))
		}
	}

	if deps.Publisher != nil {
		if err := deps.Publisher.Close(); err != nil {
			logger.Error("failed to close NATS publisher", slog.Any("error", err))
		}
	}

	logger.Debug("dependencies closed")
}
