// Package main provides the worker service entry point.
//
// The worker service consumes privacyrequest.queued events, builds the
// dataset graph and a traversal for the request's seed identities, runs
// the access pass (and the erasure pass, when requested) through the
// task execution engine, filters the access result to the request's
// categories, and records the request's final status. It exposes health
// and readiness endpoints the way the ETL service does, without its
// metrics or sync-trigger surface.
//
// Usage:
//
//	go run ./cmd/worker
//
// Environment Variables:
//
//	DATABASE_URL      - PostgreSQL connection string for this service's own store
//	NATS_URL          - NATS server URL
//	NATS_WORKER_QUEUE - queue group name workers join (default: privacygraph-workers)
//	REDIS_*           - identity cache connection; seed persistence and input
//	                    spillover are disabled if unreachable
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/privacygraph/internal/cache"
	"github.com/medisync/privacygraph/internal/config"
	"github.com/medisync/privacygraph/internal/connector/postgres"
	"github.com/medisync/privacygraph/internal/dialectregistry"
	"github.com/medisync/privacygraph/internal/events"
	"github.com/medisync/privacygraph/internal/identitycache"
	"github.com/medisync/privacygraph/internal/privacygraph/connector"
	"github.com/medisync/privacygraph/internal/privacygraph/engine"
	"github.com/medisync/privacygraph/internal/privacygraph/filter"
	"github.com/medisync/privacygraph/internal/privacygraph/graph"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
	"github.com/medisync/privacygraph/internal/privacygraph/traversal"
	"github.com/medisync/privacygraph/internal/store"
)

const (
	// ServiceName is the name of this service.
	ServiceName = "privacygraph-worker"

	// ServiceVersion is the version of this service.
	ServiceVersion = "1.0.0-alpha"
)

func main() {
	cfg := config.MustLoad()
	cfg.LogConfig(slog.Default())

	logger := setupLogger(cfg)
	logger.Info("starting worker service",
		slog.String("service", ServiceName),
		slog.String("version", ServiceVersion),
		slog.String("environment", string(cfg.App.Environment)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := pgxpool.New(pingCtx, cfg.DatabaseDSN())
	pingCancel()
	if err != nil {
		logger.Error("failed to create connection pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, logger)
	defer st.Close()

	publisher, err := events.NewPublisher(events.PublisherConfig{
		URL:           cfg.NATS.URL,
		Name:          ServiceName,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	}, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer publisher.Close()

	idCache := initIdentityCache(cfg, logger)
	if idCache != nil {
		defer idCache.Close()
	}

	w := &worker{
		store:     st,
		publisher: publisher,
		idCache:   idCache,
		engineCfg: engine.Config{
			TaskRetryCount:      cfg.Engine.TaskRetryCount,
			TaskRetryDelay:      cfg.Engine.TaskRetryDelay,
			TaskRetryBackoff:    cfg.Engine.TaskRetryBackoff,
			MaskingStrict:       cfg.Engine.MaskingStrict,
			ConnectorTimeout:    cfg.Engine.ConnectorTimeout,
			InputSpillThreshold: cfg.Engine.InputSpillThreshold,
		},
		logger: logger,
	}

	queue := cfg.NATS.WorkerQueue
	if queue == "" {
		queue = "privacygraph-workers"
	}
	sub, err := events.NewSubscriber(publisher, events.SubjectRequestQueued, w.handleMessage, &events.SubscriptionOptions{Queue: queue})
	if err != nil {
		logger.Error("failed to subscribe to request queue", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sub.Close()

	server := setupHTTPServer(cfg, pool, logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
		logger.Info("HTTP server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	waitForShutdown(logger, server, pool, cancel)

	logger.Info("worker service stopped")
}

// worker holds the dependencies every consumed message needs to run a
// privacy request end to end.
type worker struct {
	store     *store.Store
	publisher *events.Publisher
	idCache   *identitycache.Cache // nil if Redis is unavailable
	engineCfg engine.Config
	logger    *slog.Logger
}

// initIdentityCache connects to Redis for seed-identity persistence and
// input-value spillover. A connection failure is logged and treated as
// non-fatal: the engine runs with both features disabled rather than
// refusing to process requests.
func initIdentityCache(cfg *config.Config, logger *slog.Logger) *identitycache.Cache {
	cacheClient, err := cache.NewClient(cache.ClientConfig{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	}, logger)
	if err != nil {
		logger.Warn("identity cache not available, seed persistence and input spillover are disabled", slog.Any("error", err))
		return nil
	}
	return identitycache.New(cacheClient.Raw(), cfg.Redis.SeedTTL, logger)
}

func (w *worker) handleMessage(msg *events.Message) error {
	var evt events.RequestQueuedEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return fmt.Errorf("worker: failed to unmarshal queued event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	w.logger.Info("picked up privacy request", slog.String("request_id", evt.RequestID.String()))

	if err := w.run(ctx, evt.RequestID); err != nil {
		w.logger.Error("privacy request failed",
			slog.String("request_id", evt.RequestID.String()),
			slog.String("error", err.Error()),
		)
		if updErr := w.store.UpdateRequestStatus(ctx, evt.RequestID, model.RequestErrored, timePtr(time.Now())); updErr != nil {
			w.logger.Error("failed to record errored status", slog.String("error", updErr.Error()))
		}
		return err
	}
	return nil
}

// run loads a queued request, builds its graph and traversal, executes
// the access pass (and erasure, if requested), filters the result, and
// records completion.
func (w *worker) run(ctx context.Context, requestID uuid.UUID) error {
	req, err := w.store.LoadPrivacyRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	if err := w.store.UpdateRequestStatus(ctx, requestID, model.RequestRunning, nil); err != nil {
		w.logger.Warn("failed to mark request running", slog.String("error", err.Error()))
	}

	policy, err := w.store.LoadPolicy(ctx, req.PolicyKey)
	if err != nil {
		return fmt.Errorf("load policy %q: %w", req.PolicyKey, err)
	}

	datasets, err := w.store.LoadDatasets(ctx, req.DatasetKeys)
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}

	g, err := graph.Build(datasets)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	// A *traversal.Error means some collection is unreachable from the
	// request's seeds. That aborts the whole request before any task runs
	// (t itself is unusable — its Order only covers the reachable subset).
	t, planErr := traversal.Plan(g, req.Seeds)
	if planErr != nil {
		var traversalErr *traversal.Error
		if errors.As(planErr, &traversalErr) {
			w.logger.Error("aborting request: traversal has unreachable collections",
				slog.String("request_id", requestID.String()),
				slog.Int("unreachable_count", len(traversalErr.Unreachable)),
			)
		}
		return fmt.Errorf("plan traversal: %w", planErr)
	}

	conns, queryConfigs, err := w.resolveDatasets(ctx, datasets)
	if err != nil {
		return fmt.Errorf("resolve dataset connectors: %w", err)
	}
	defer closeConnectors(conns, w.logger)

	eng := engine.New(conns, queryConfigs, w.store, w.publisher, w.engineCfg, w.logger)
	if w.idCache != nil {
		eng.Cache = w.idCache
	}

	accessData := eng.RunAccess(ctx, t, policy, req)
	accessData = filter.Results(accessData, g, req.Categories)

	if req.Action == model.ActionErasure {
		eng.RunErasure(ctx, t, policy, req, accessData)
	}

	now := time.Now()
	if err := w.store.UpdateRequestStatus(ctx, requestID, model.RequestComplete, &now); err != nil {
		w.logger.Error("failed to record completed status", slog.String("error", err.Error()))
	}
	if err := w.publisher.PublishRequestCompleted(ctx, requestID, req.Action); err != nil {
		w.logger.Warn("failed to publish request completed event", slog.String("error", err.Error()))
	}

	return nil
}

// resolveDatasets constructs one connector and one query.Config per
// dataset that declares a connectable dialect. Datasets whose dialect
// has no live connector (snowflake, mongo — see DESIGN.md) are resolved
// for query generation only; the engine treats a dataset absent from the
// connector map as having no connector configured and logs accordingly
// rather than failing the whole request.
func (w *worker) resolveDatasets(ctx context.Context, datasets []*model.Dataset) (map[string]connector.Connector, map[string]query.Config, error) {
	conns := make(map[string]connector.Connector, len(datasets))
	queryConfigs := make(map[string]query.Config, len(datasets))

	for _, ds := range datasets {
		qc, err := dialectregistry.QueryConfigFor(ds.Dialect, dialectregistry.Settings{RedshiftSchema: ds.Schema})
		if err != nil {
			w.logger.Warn("skipping dataset with unresolvable dialect",
				slog.String("dataset", ds.Name), slog.String("dialect", ds.Dialect), slog.Any("error", err))
			continue
		}
		queryConfigs[ds.Name] = qc

		if !dialectregistry.HasConnector(ds.Dialect) {
			continue
		}
		if ds.ConnectionURI == "" {
			w.logger.Warn("dataset has no connection_uri configured, skipping", slog.String("dataset", ds.Name))
			continue
		}

		conn, err := postgres.New(ctx, postgres.Config{DSN: ds.ConnectionURI, Logger: w.logger})
		if err != nil {
			closeConnectors(conns, w.logger)
			return nil, nil, fmt.Errorf("connect to dataset %q: %w", ds.Name, err)
		}
		conns[ds.Name] = conn
	}

	return conns, queryConfigs, nil
}

func closeConnectors(conns map[string]connector.Connector, logger *slog.Logger) {
	for name, conn := range conns {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close connector", slog.String("dataset", name), slog.String("error", err.Error()))
		}
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// setupLogger configures the structured logger.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     slogLevelFromString(cfg.App.LogLevel),
	}

	var handler slog.Handler
	switch cfg.App.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// setupHTTPServer creates the HTTP server for health and readiness checks.
func setupHTTPServer(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "up",
			"service": ServiceName,
			"version": ServiceVersion,
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// waitForShutdown handles graceful shutdown on SIGINT/SIGTERM.
func waitForShutdown(logger *slog.Logger, server *http.Server, pool *pgxpool.Pool, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}
	pool.Close()
}

func slogLevelFromString(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
