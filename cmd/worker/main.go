package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/illegalcall/wingwoman/internal/config"
	"github.com/illegalcall/wingwoman/internal/metrics"
	"github.com/illegalcall/wingwoman/internal/worker"
	"github.com/illegalcall/wingwoman/pkg/database"
	"github.com/illegalcall/wingwoman/pkg/kafka"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database clients
	db, err := database.NewClients(cfg.Database, cfg.Redis)
	if err != nil {
		slog.Error("Failed to initialize database clients", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("✅ Connected to databases")

	if err := db.CreateTables(); err != nil {
		slog.Error("Failed to create tables", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(ctx, cfg.Kafka)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	slog.Info("✅ Connected to Kafka")

	if cfg.Server.WorkerMetrics != "" {
		go serveMetrics(cfg.Server.WorkerMetrics)
	}

	// Create and start worker
	w := worker.NewWorker(cfg, db, consumer, metrics.New(prometheus.DefaultRegisterer))

	if err := w.Start(ctx); err != nil {
		slog.Error("Worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("👋 Worker stopped")
}

func serveMetrics(addr string) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	slog.Info("📈 Worker metrics listening", "addr", addr)
	if err := app.Listen(addr); err != nil {
		slog.Error("Metrics server error", "error", err)
	}
}
