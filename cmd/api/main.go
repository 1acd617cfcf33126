package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicsync/platform/internal/api/router"
	"github.com/clinicsync/platform/internal/app/bootstrap"
	appconfig "github.com/clinicsync/platform/internal/config"
	"github.com/clinicsync/platform/internal/http/handlers"
	"github.com/clinicsync/platform/internal/observability/metrics"
	"github.com/clinicsync/platform/internal/pms"
	"github.com/clinicsync/platform/internal/pms/factory"
	"github.com/clinicsync/platform/internal/store"
	syncengine "github.com/clinicsync/platform/internal/sync"
	"github.com/clinicsync/platform/internal/vault"
	"github.com/clinicsync/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinicsync API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for sync locking")
		os.Exit(1)
	}

	credentialVault, err := vault.New(cfg.CredentialSecret)
	if err != nil {
		logger.Error("failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	repo := store.New(db, cfg.SyncBatchSize)
	syncMetrics := metrics.NewSyncMetrics(nil)
	locker := syncengine.NewLocker(redisClient, cfg.SyncLockTTL)
	adapterFactory := &factory.Factory{
		Timeout: cfg.PMSRequestTimeout,
		Retry: pms.RetryPolicy{
			MaxAttempts: cfg.PMSRetryMaxAttempts,
			BaseDelay:   cfg.PMSRetryBaseDelay,
		},
		Logger: logger,
	}

	orchestrator := syncengine.NewOrchestrator(adapterFactory, repo, locker, credentialVault, logger, syncMetrics)
	reclassifier := syncengine.NewReclassifier(repo, logger)

	routerCfg := &router.Config{
		Logger:             logger,
		SyncHandler:        handlers.NewSyncHandler(orchestrator, adapterFactory, cfg.PMSConnectTestLimit, logger),
		SettingsHandler:    handlers.NewSettingsHandler(reclassifier, repo, logger),
		SyncLogsHandler:    handlers.NewSyncLogsHandler(repo, logger),
		MetricsHandler:     promhttp.Handler(),
		AuthJWTSecret:      cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Sync runs are served synchronously and can take minutes on a
		// large roster.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
