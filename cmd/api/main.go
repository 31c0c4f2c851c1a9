package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Jeduardo622/allincompassing-api/internal/api/router"
	"github.com/Jeduardo622/allincompassing-api/internal/audit"
	appconfig "github.com/Jeduardo622/allincompassing-api/internal/config"
	"github.com/Jeduardo622/allincompassing-api/internal/db"
	"github.com/Jeduardo622/allincompassing-api/internal/http/handlers"
	"github.com/Jeduardo622/allincompassing-api/internal/idempotency"
	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/orchestrator"
	"github.com/Jeduardo622/allincompassing-api/internal/scheduling"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting allincompassing API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var auditDB *sql.DB
	if cfg.AuditDBURL != "" {
		auditDB, err = sql.Open("postgres", cfg.AuditDBURL)
		if err != nil {
			logger.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
	}
	auditor := audit.NewRecorder(auditDB, logger)

	m := metrics.NewSchedulingMetrics(nil)

	var idemStore idempotency.Store
	switch cfg.IdempotencyBackend {
	case "redis":
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		idemStore = idempotency.NewRedisStore(redis.NewClient(opts), cfg.IdempotencyTTL)
	case "memory":
		idemStore = idempotency.NewMemoryStore()
	default:
		idemStore = idempotency.NewPostgresStore(pool)
	}

	repo := scheduling.NewPGRepository(pool)
	holds := scheduling.NewHoldService(repo, auditor, logger, m,
		scheduling.WithHoldTTLBounds(
			time.Duration(cfg.DefaultHoldSeconds)*time.Second,
			time.Duration(cfg.MaxHoldSeconds)*time.Second,
		))
	confirms := scheduling.NewConfirmService(repo, auditor, logger, m)
	cancels := scheduling.NewCancelService(repo, auditor, logger, m)

	var suggester orchestrator.SuggestionClient
	if cfg.DelegationEnabled && cfg.SuggestionServiceURL != "" {
		suggester, err = orchestrator.NewHTTPSuggestionClient(orchestrator.SuggestionConfig{
			BaseURL: cfg.SuggestionServiceURL,
			APIKey:  cfg.SuggestionAPIKey,
			Timeout: cfg.SuggestionTimeout,
		})
		if err != nil {
			logger.Error("failed to build suggestion client", "error", err)
			os.Exit(1)
		}
	}
	orch := orchestrator.New(suggester, orchestrator.NewPGRunStore(pool), logger, m,
		cfg.DelegationEnabled, orchestrator.WithTimeout(cfg.SuggestionTimeout))

	schedulingHandler := handlers.NewSchedulingHandler(holds, confirms, cancels, idemStore, orch, logger, m)

	r := router.New(&router.Config{
		Logger:             logger,
		Scheduling:         schedulingHandler,
		MetricsHandler:     promhttp.Handler(),
		AuthJWTSecret:      cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
