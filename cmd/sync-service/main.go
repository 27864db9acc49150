package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/handler"
	"github.com/noah-isme/sis-sync/internal/middleware"
	"github.com/noah-isme/sis-sync/internal/repository"
	"github.com/noah-isme/sis-sync/internal/service"
	"github.com/noah-isme/sis-sync/internal/sis"
	"github.com/noah-isme/sis-sync/pkg/cache"
	"github.com/noah-isme/sis-sync/pkg/config"
	"github.com/noah-isme/sis-sync/pkg/database"
	"github.com/noah-isme/sis-sync/pkg/decode"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/jobs"
	"github.com/noah-isme/sis-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/sis-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sis-sync/pkg/middleware/requestid"
	"github.com/noah-isme/sis-sync/pkg/ratelimit"
	"github.com/noah-isme/sis-sync/pkg/storage"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// Run status is a convenience; syncs proceed without it.
		logr.Warn("redis unavailable, sync status will not be recorded", zap.Error(err))
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()
	syncCfg := cfg.Sync

	httpClient := &http.Client{Timeout: syncCfg.HTTPTimeout}
	tokens := sis.NewTokenManager(sis.NewTokenStore(), httpClient, syncCfg.TokenBuffer, logr, sis.WithTokenObserver(metricsSvc))
	retry := ratelimit.NewRateLimiter(&ratelimit.Config{
		BackoffBase:       syncCfg.RetryBackoff,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       syncCfg.RetryAttempts,
		Retryable:         appErrors.IsTransient,
	})
	client := sis.NewClient(httpClient, tokens, retry, logr)
	pace := func() *ratelimit.RateLimiter {
		return ratelimit.NewRateLimiter(&ratelimit.Config{APIDelay: syncCfg.PageDelay, MaxAttempts: 1})
	}

	chunkStore, err := storage.NewLocalStorage(syncCfg.FailedChunkDir)
	if err != nil {
		logr.Fatal("failed to prepare chunk storage", zap.Error(err))
	}

	pager := sis.NewPager(client, pace(), syncCfg.PageSize, metricsSvc, logr)
	enricher := sis.NewEnricher(client, syncCfg.EnrichConcurrency)
	exports := sis.NewExportIngestor(client, pace(), decode.NewChain(syncCfg.MaxCellLength), syncCfg.ExportWindow, chunkStore, metricsSvc, logr)

	tenantRepo := repository.NewTenantRepository(db)
	referenceRepo := repository.NewReferenceRepository(db, syncCfg.ResolveBatchSize)
	writer := repository.NewBulkWriter(db, repository.BatchLimits{
		ParamCeiling: syncCfg.ParamCeiling,
		Reserved:     syncCfg.ParamReserved,
		MaxRows:      syncCfg.MaxBatchRows,
	}, metricsSvc.ObserveBatch, logr)
	reportingRepo := repository.NewReportingRepository(db, syncCfg.PropagateTimeout)
	statusRepo := repository.NewSyncStatusRepository(redisClient, logr)

	deps := service.SyncDeps{References: referenceRepo, Writer: writer, Validator: validate, Logger: logr}
	syncers := []service.DomainSyncer{
		service.NewOrganizationSyncService(pager, deps),
		service.NewStudentSyncService(pager, deps),
		service.NewStaffSyncService(pager, enricher, deps),
		service.NewClassSyncService(pager, deps),
		service.NewAllocationSyncService(pager, deps),
		service.NewAttendanceSyncService(exports, deps),
		service.NewAssessmentSyncService(pager, reportingRepo, syncCfg.ReportGradeLevels, deps).WithPropagationObserver(metricsSvc),
	}
	orchestrator := service.NewSyncOrchestrator(tenantRepo, syncers, metricsSvc, validate, syncCfg.RunTimeout, logr)

	syncSvc := service.NewSyncService(orchestrator, statusRepo, syncCfg.StatusTTL, validate, logr)
	queue := jobs.NewQueue("sync", syncSvc.Handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: syncCfg.QueueBufferSize,
		MaxRetries: 1,
		RetryDelay: time.Minute,
		Retryable:  appErrors.IsTransient,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	syncSvc.AttachQueue(queue)

	if syncCfg.ScheduleEnabled {
		scheduler := service.NewSyncScheduler(syncCfg.Schedule, tenantRepo, syncSvc, logr)
		err := scheduler.AddJob("@daily", "failed chunk cleanup", func() {
			removed, err := chunkStore.CleanupOlderThan(syncCfg.StatusTTL)
			if err != nil {
				logr.Warn("failed chunk cleanup", zap.Error(err))
				return
			}
			logr.Sugar().Infow("failed chunks removed", "count", len(removed))
		})
		if err == nil {
			err = scheduler.Start()
		}
		if err != nil {
			logr.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	handler.NewSyncHandler(syncSvc).Register(r.Group(cfg.APIPrefix))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown", zap.Error(err))
	}
}
