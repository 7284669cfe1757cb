// cmd/historian is an asynchronous service that pops match actions from a Redis
// queue and persists them to the match_actions table in batches.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/config"
	"github.com/jason-s-yu/bingo/internal/database"
	"github.com/jason-s-yu/bingo/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("database: %v", err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	hs := historian.NewService(rdb, database.NewStore(pool), logger, historian.Options{
		Queue:      cfg.HistorianQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushEvery: cfg.HistorianFlush,
		MaxPending: cfg.HistorianMaxQueued,
	})
	if err := hs.Run(ctx); err != nil {
		logger.Errorf("historian: %v", err)
	}
	logger.Info("Historian shutdown complete.")
}
