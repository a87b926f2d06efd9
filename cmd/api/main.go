package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/api"
	"github.com/leozw/queue-warden/internal/api/handlers"
	"github.com/leozw/queue-warden/internal/config"
	"github.com/leozw/queue-warden/internal/db"
	"github.com/leozw/queue-warden/internal/metrics"
	"github.com/leozw/queue-warden/internal/quota"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database connection
	database, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	repo := db.NewRepository(database)

	// Redis connection
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		opt = &redis.Options{Addr: cfg.Redis.URL}
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	metricsCollector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Quota guard
	ledger := quota.NewLedger(rdb, cfg.Billing.ReservationTTL)
	guard := quota.NewGuard(ledger, repo, cfg.Billing.Enabled, metricsCollector, logger)

	// Admission API
	handler := handlers.NewHandler(nil, guard, repo, rdb, logger)
	server := api.NewAdmissionServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Admission API started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down admission API...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Admission API stopped")
}
