package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/illegalcall/wingwoman/internal/api"
	"github.com/illegalcall/wingwoman/internal/config"
	"github.com/illegalcall/wingwoman/internal/events"
	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/inflight"
	"github.com/illegalcall/wingwoman/internal/ledger"
	"github.com/illegalcall/wingwoman/internal/metrics"
	"github.com/illegalcall/wingwoman/internal/pkg/supabase"
	"github.com/illegalcall/wingwoman/internal/session"
	"github.com/illegalcall/wingwoman/internal/storage"
	"github.com/illegalcall/wingwoman/internal/store"
	"github.com/illegalcall/wingwoman/pkg/database"
	"github.com/illegalcall/wingwoman/pkg/kafka"
)

// inflightTTL bounds how long a crashed request can block its user's next attempt.
const inflightTTL = 2 * time.Minute

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
	slog.Info("✅ Tables are ready")

	profiles, err := newProfileStore(cfg, db)
	if err != nil {
		slog.Error("Failed to create profile store", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	slog.Info("✅ Connected to Kafka")

	m := metrics.New(prometheus.DefaultRegisterer)

	model, err := generation.NewGeminiModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		slog.Error("Failed to create Gemini client", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Gemini client ready", "model", model.Name())

	auth := supabase.NewGoTrueAuth(cfg.Supabase.URL, cfg.Supabase.AnonKey, slog.Default())
	if err := auth.Ping(); err != nil {
		slog.Warn("Supabase Auth is not reachable yet", "error", err)
	}

	allowed, err := storage.ParseNetworks(cfg.Storage.AllowedNetworks)
	if err != nil {
		slog.Error("Invalid STORAGE_ALLOWED_NETWORKS", "error", err)
		os.Exit(1)
	}
	images, err := storage.NewLocalStorage(cfg.Storage.TempDir, cfg.Storage.MaxSize, storage.AllowNetworks(allowed...))
	if err != nil {
		slog.Error("Failed to prepare image storage", "error", err)
		os.Exit(1)
	}
	go sweepImages(ctx, images, cfg.Storage.TTL)

	sessions := session.NewManager(profiles, slog.Default(),
		ledger.WithPersistTimeout(cfg.Credits.PersistTimeout),
		ledger.WithResetInterval(cfg.Credits.ResetInterval),
		ledger.WithWriteFailureHook(func(error) { m.RemoteWriteFailures.Inc() }),
	)

	server := api.NewServer(cfg, api.Deps{
		Auth:      auth,
		Store:     profiles,
		Sessions:  sessions,
		Generator: generation.NewClient(model, cfg.Gemini.Timeout, slog.Default()),
		Storage:   images,
		Guard:     inflight.NewGuard(db.Redis, inflightTTL),
		Publisher: events.NewPublisher(producer, cfg.Kafka.Topic),
		Metrics:   m,
		Logger:    slog.Default(),
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("🚀 Server running", "port", cfg.Server.Port)
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	slog.Info("🛑 Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("Shutdown error", "error", err)
	}
	slog.Info("👋 Server stopped")
}

func newProfileStore(cfg *config.Config, db *database.Clients) (store.ProfileStore, error) {
	if cfg.Supabase.ProfileStore == "rest" {
		slog.Info("Using PostgREST profile store", "url", cfg.Supabase.URL)
		rest, err := store.NewRESTStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, err
		}
		return rest, nil
	}
	return store.NewSQLStore(db.DB), nil
}

// sweepImages removes intake files left behind by interrupted requests.
func sweepImages(ctx context.Context, s *storage.LocalStorage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Cleanup(ttl); err != nil {
				slog.Warn("Image cleanup failed", "error", err)
			} else if n > 0 {
				slog.Info("🧹 Removed stale images", "count", n)
			}
		}
	}
}
