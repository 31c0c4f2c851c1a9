package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/Jeduardo622/allincompassing-api/internal/audit"
	appconfig "github.com/Jeduardo622/allincompassing-api/internal/config"
	"github.com/Jeduardo622/allincompassing-api/internal/db"
	"github.com/Jeduardo622/allincompassing-api/internal/scheduling"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hold expiry worker", "interval", cfg.ExpirySweepInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	repo := scheduling.NewPGRepository(pool)
	auditor := audit.NewRecorder(auditDB, logger)
	sweeper := scheduling.NewExpirySweeper(repo, auditor, logger, cfg.ExpirySweepInterval)

	sweeper.Start(ctx)
	logger.Info("expiry worker stopped")
}
