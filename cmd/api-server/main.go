package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/readaloud-api/api/swagger"
	"github.com/noah-isme/readaloud-api/internal/handler"
	"github.com/noah-isme/readaloud-api/internal/middleware"
	"github.com/noah-isme/readaloud-api/internal/repository"
	"github.com/noah-isme/readaloud-api/internal/service"
	"github.com/noah-isme/readaloud-api/pkg/cache"
	"github.com/noah-isme/readaloud-api/pkg/config"
	"github.com/noah-isme/readaloud-api/pkg/database"
	"github.com/noah-isme/readaloud-api/pkg/export"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
	"github.com/noah-isme/readaloud-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/readaloud-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/readaloud-api/pkg/middleware/requestid"
	"github.com/noah-isme/readaloud-api/pkg/storage"
	"github.com/noah-isme/readaloud-api/pkg/tts"
)

const version = "1.0.0"

// @title Read Aloud API
// @version 1.0.0
// @description Reading practice backend: stories, assignments, recordings, reviews and student flags.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Dashboard.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	blobs, blobPing, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		logr.Fatal("failed to open storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}

	validate := service.NewValidator()
	metrics := service.NewMetricsService()
	rules := service.FlagRulesFromConfig(cfg.Flags)

	userRepo := repository.NewUserRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	classRepo := repository.NewClassRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	recordingRepo := repository.NewRecordingRepository(db)
	flagRepo := repository.NewFlagRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	audioJobRepo := repository.NewAudioJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	catalogSvc := service.NewCatalogService(storyRepo, audioRepo, blobs, validate, logr)
	classSvc := service.NewClassService(classRepo, userRepo, validate, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, classSvc, classRepo, storyRepo, validate, logr)
	flagSvc := service.NewFlagService(analyticsRepo, flagRepo, userRepo, cacheSvc, metrics, validate, logr, service.FlagServiceConfig{
		Rules:           rules,
		Concurrency:     cfg.Flags.ScanConcurrency,
		ScanInterval:    cfg.Flags.ScanInterval,
		Retention:       cfg.Flags.Retention,
		CleanupInterval: cfg.Flags.CleanupInterval,
	})
	recordingSvc := service.NewRecordingService(service.RecordingServiceParams{
		Recordings:  recordingRepo,
		Assignments: assignmentRepo,
		Stories:     storyRepo,
		Blobs:       blobs,
		Signer:      storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL),
		Audit:       userRepo,
		Evaluator:   flagSvc,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
		Config: service.RecordingServiceConfig{
			MaxFileSize:  cfg.Recordings.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Recordings.AllowedMIMEs,
			MediaPrefix:  path.Join(cfg.APIPrefix, "media"),
		},
	})
	dashboardSvc := service.NewDashboardService(analyticsRepo, flagRepo, cacheSvc, logr, service.DashboardServiceConfig{
		CacheTTL: cfg.Dashboard.CacheTTL,
		Rules:    rules,
	})
	exporter := service.NewExportService(export.NewCSVExporter(), export.NewJSONExporter(), export.NewPDFExporter())
	reportSvc := service.NewReportService(analyticsRepo, classRepo, flagRepo, userRepo, exporter, rules, logr)

	flagQueue := jobs.NewQueue(service.FlagEvaluationJob, flagSvc.Handle, jobs.QueueConfig{
		Workers:    2,
		BufferSize: 256,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Coalesce:   true,
		Logger:     logr,
	})
	flagSvc.SetQueue(flagQueue)

	synth := tts.NewHTTPSynthesizer(cfg.TTS, &http.Client{Timeout: cfg.TTS.Timeout})
	audioWorker := service.NewAudioJobWorker(audioJobRepo, storyRepo, audioRepo, blobs, synth, metrics, logr)
	audioQueue := jobs.NewQueue(service.AudioGenerationJob, audioWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.AudioJobs.Workers,
		BufferSize: 64,
		MaxRetries: cfg.AudioJobs.MaxRetries,
		RetryDelay: cfg.AudioJobs.RetryDelay,
		Logger:     logr,
	})
	audioJobSvc := service.NewAudioJobService(audioJobRepo, catalogSvc, audioQueue, userRepo, validate, logr)

	checks := map[string]service.Pinger{
		"database": db,
		"storage":  blobPing,
	}
	if redisClient != nil {
		checks["cache"] = service.PingFunc(cacheRepo.Ping)
	}
	healthSvc := service.NewHealthService(version, metrics, checks, flagQueue, audioQueue)

	flagQueue.Start(ctx)
	audioQueue.Start(ctx)
	flagSvc.StartScheduler(ctx)
	audioJobSvc.RecoverPendingJobs(ctx)

	if err := authSvc.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName); err != nil {
		logr.Warn("bootstrap admin not created", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, healthSvc)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Stories:     handler.NewStoryHandler(catalogSvc),
		Classes:     handler.NewClassHandler(classSvc),
		Assignments: handler.NewAssignmentHandler(assignmentSvc),
		Recordings:  handler.NewRecordingHandler(recordingSvc),
		Analytics:   handler.NewAnalyticsHandler(flagSvc, dashboardSvc),
		Reports:     handler.NewReportHandler(reportSvc),
		AudioJobs:   handler.NewAudioJobHandler(audioJobSvc),
		Metrics:     metricsHandler,
	}, handler.RouteDeps{
		Tokens: authSvc,
		Audit:  userRepo,
		Logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	flagQueue.Stop()
	audioQueue.Stop()
}

// openStorage builds the configured blob store and its readiness probe.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, service.Pinger, error) {
	switch cfg.Driver {
	case config.StorageDriverGCS:
		store, err := storage.NewGCSStorage(ctx, cfg.GCSBucket, storage.GCSOptionsFromCredentials(cfg.GCSCredentials)...)
		if err != nil {
			return nil, nil, err
		}
		return store, service.PingFunc(store.Ping), nil
	case config.StorageDriverLocal, "":
		store, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
