// Command recorder consumes annotation events from Kafka, keeps running
// aggregates in memory, appends every run to the PostgreSQL ledger and
// serves the analytics API.
//
// Usage:
//
//	go run ./cmd/recorder [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/analytics/store"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recorder service", "port", cfg.Recorder.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	checker := health.NewChecker()

	var ledger *store.Store
	var sinks []func(context.Context, analytics.AnnotationEvent) error
	if cfg.Recorder.LedgerEnabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		ledger = store.New(db)
		if err := ledger.Migrate(ctx); err != nil {
			slog.Error("failed to migrate ledger", "error", err)
			os.Exit(1)
		}
		if snapshot, err := ledger.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not load latest snapshot", "error", err)
		} else if snapshot != nil {
			slog.Info("previous snapshot found", "total_documents", snapshot.TotalDocuments)
		}
		ledger.StartPeriodicSave(ctx, aggregator, cfg.Recorder.SnapshotInterval)
		sinks = append(sinks, ledger.RecordRun)
		checker.Register("postgres", health.PingCheck(db.Ping, false))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnnotationEvents, analytics.HandleEvent(aggregator, sinks...))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("event consumer error", "error", err)
		}
	}()
	slog.Info("event consumer started", "topic", cfg.Kafka.Topics.AnnotationEvents)
	checker.Register("kafka", health.StaticCheck(health.StatusUp, "consumer active"))

	var runs analytics.RunLister
	if ledger != nil {
		runs = ledger
	}
	analyticsHandler := analytics.NewHandler(aggregator, runs)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/runs", analyticsHandler.Runs)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Recorder.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("recorder service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("recorder service stopped")
}
