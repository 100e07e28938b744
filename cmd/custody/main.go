package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orbitax/custody/internal/custody"
	"github.com/orbitax/custody/internal/custody/config"
	"github.com/orbitax/custody/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	configPath := os.Getenv("CUSTODY_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := custody.InitializeDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	redisClient := custody.InitializeRedis(cfg.Redis)

	users := &userDirectory{db: db}
	module, err := custody.NewModule(custody.ModuleOptions{
		Config:    cfg,
		Logger:    zapLogger,
		Database:  db,
		Redis:     redisClient,
		Directory: users,
		Secrets:   users,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create custody module", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := module.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start custody module", zap.Error(err))
	}

	// Prometheus endpoint
	metricsSrv := &http.Server{
		Addr:    cfg.Engine.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("metrics server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("custody engine running",
		zap.String("environment", cfg.Environment),
		zap.String("metrics_addr", cfg.Engine.MetricsAddr),
	)

	<-ctx.Done()
	zapLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("metrics server shutdown failed", zap.Error(err))
	}
	if err := module.Stop(shutdownCtx); err != nil {
		zapLogger.Error("module shutdown failed", zap.Error(err))
	}

	// main opened these connections, so main closes them.
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("failed to close database connection", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("failed to close redis connection", zap.Error(err))
	}
}

// userDirectory resolves user contact details and TOTP enrollment from the
// platform's users table.
type userDirectory struct {
	db *gorm.DB
}

func (d *userDirectory) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := d.db.WithContext(ctx).
		Raw("SELECT email FROM users WHERE id = ?", userID).
		Scan(&email).Error
	if err != nil {
		return "", fmt.Errorf("user lookup failed: %w", err)
	}
	if email == "" {
		return "", fmt.Errorf("user %s not found", userID)
	}
	return email, nil
}

func (d *userDirectory) TOTPSecret(ctx context.Context, userID uuid.UUID) (string, error) {
	var secret string
	err := d.db.WithContext(ctx).
		Raw("SELECT totp_secret FROM users WHERE id = ? AND mfa_enabled", userID).
		Scan(&secret).Error
	if err != nil {
		return "", fmt.Errorf("user lookup failed: %w", err)
	}
	if secret == "" {
		return "", fmt.Errorf("user %s has no TOTP enrollment", userID)
	}
	return secret, nil
}
