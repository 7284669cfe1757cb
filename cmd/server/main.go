// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/bingo/internal/auth"
	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/config"
	"github.com/jason-s-yu/bingo/internal/database"
	"github.com/jason-s-yu/bingo/internal/fanout"
	"github.com/jason-s-yu/bingo/internal/handlers"
	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/jason-s-yu/bingo/internal/memstore"
	"github.com/jason-s-yu/bingo/internal/middleware"
	"github.com/jason-s-yu/bingo/internal/stats"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// backend is what the server needs from a persistence layer.
type backend interface {
	match.Store
	stats.Store
}

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}

	if cfg.AuthPrivateKeyPath != "" {
		err = auth.InitFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath)
	} else {
		logger.Warn("no auth keys configured, generating an ephemeral key pair")
		err = auth.Init()
	}
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store backend
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store = memstore.New()
	default:
		pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatalf("database: %v", err)
		}
		store = database.NewStore(pool)
		logger.Info("connected to postgres")
	}

	registry := fanout.NewRegistry(logger)
	aggregator := stats.NewAggregator(store, logger)
	if n, err := aggregator.Reconcile(ctx); err != nil {
		logger.WithError(err).Error("stats reconciliation failed")
	} else if n > 0 {
		logger.WithField("matches", n).Info("applied pending match stats")
	}

	opts := []match.Option{
		match.WithNotifier(registry),
		match.WithStats(aggregator),
	}
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, match.WithActionPublisher(cache.NewActionLog(rdb, cfg.HistorianQueue)))
		logger.WithField("queue", cfg.HistorianQueue).Info("match action log enabled")
	}
	svc := match.NewService(store, logger, opts...)

	mux := http.NewServeMux()
	handlers.NewMatchHandler(svc, logger, cfg.Debug).Register(mux)
	mux.HandleFunc("GET /ws", handlers.NotifyWSHandler(logger, registry))
	mux.HandleFunc("GET /healthz", handlers.HealthHandler)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.LogMiddleware(logger)(middleware.RecoverMiddleware(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server exited: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown, so drop them first
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
