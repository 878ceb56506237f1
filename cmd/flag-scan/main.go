// Command flag-scan runs a single full flag evaluation plus retention cleanup and exits.
// It is meant for cron-style deployments that disable the in-process scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/repository"
	"github.com/noah-isme/readaloud-api/internal/service"
	"github.com/noah-isme/readaloud-api/pkg/cache"
	"github.com/noah-isme/readaloud-api/pkg/config"
	"github.com/noah-isme/readaloud-api/pkg/database"
	"github.com/noah-isme/readaloud-api/pkg/logger"
)

func main() {
	skipCleanup := flag.Bool("skip-cleanup", false, "do not purge resolved flags past retention")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboards will expire on their own", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	dashboards := service.NewCacheService(cacheRepo, nil, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	flagSvc := service.NewFlagService(
		repository.NewAnalyticsRepository(db),
		repository.NewFlagRepository(db),
		repository.NewUserRepository(db),
		dashboards,
		nil,
		service.NewValidator(),
		logr,
		service.FlagServiceConfig{
			Rules:       service.FlagRulesFromConfig(cfg.Flags),
			Concurrency: cfg.Flags.ScanConcurrency,
			Retention:   cfg.Flags.Retention,
		},
	)

	result, err := flagSvc.ScanAll(ctx)
	if err != nil {
		logr.Fatal("flag scan failed", zap.Error(err))
	}
	logr.Info("flag scan finished",
		zap.Int("students", result.Students),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int64("cleared", result.Cleared),
		zap.Int("failed", result.Failed),
	)

	if *skipCleanup {
		return
	}
	purged, err := flagSvc.Cleanup(ctx)
	if err != nil {
		logr.Fatal("flag cleanup failed", zap.Error(err))
	}
	logr.Info("resolved flags purged", zap.Int64("count", purged))
}
