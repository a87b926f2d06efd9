package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/alerting"
	"github.com/leozw/queue-warden/internal/api"
	"github.com/leozw/queue-warden/internal/api/handlers"
	"github.com/leozw/queue-warden/internal/config"
	"github.com/leozw/queue-warden/internal/db"
	"github.com/leozw/queue-warden/internal/metrics"
	"github.com/leozw/queue-warden/internal/queue"
	"github.com/leozw/queue-warden/internal/reconciler"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Schema migrations
	if err := db.Migrate(cfg.Database.URL); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

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

	// Alerting engine
	var channels []alerting.Channel
	if cfg.Alerting.SlackWebhookURL != "" {
		channels = append(channels, alerting.NewSlackChannel(cfg.Alerting.SlackWebhookURL))
	}
	if cfg.Alerting.WebhookURL != "" {
		channels = append(channels, alerting.NewWebhookChannel(cfg.Alerting.WebhookURL))
	}
	dispatcher := alerting.NewDispatcher(channels, metricsCollector, logger)
	inspector := queue.NewInspector(rdb)
	engine := alerting.NewEngine(cfg.Alerting, inspector, dispatcher, metricsCollector, logger)

	// Stalled-run reconciler
	rec := reconciler.NewReconciler(repo, reconciler.DefaultJobStatusResolver, cfg.Reconciler, metricsCollector, logger)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rec.Run(ctx)
	}()

	// Operator API
	handler := handlers.NewHandler(engine, nil, repo, rdb, logger)
	server := api.NewOperatorServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Warden started", zap.String("port", cfg.Server.Port))

	// Graceful shutdown: stop the timers, let in-flight cycles finish.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down warden...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Warden stopped")
}
