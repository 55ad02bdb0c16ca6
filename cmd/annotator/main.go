// Command annotator serves the entity annotation API.
//
// It owns a pool of processing engines (layout, recognition and linking
// clients), caches finished results in Redis when available and publishes
// one analytics event per request to Kafka.
//
// Usage:
//
//	go run ./cmd/annotator [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate/cache"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/annotate/handler"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/engine/client"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/internal/language"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Entity-Annotation-Platform/pkg/tracing"
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
	slog.Info("starting annotation service",
		"port", cfg.Server.Port,
		"engines", cfg.Engine.PoolSize,
		"languages", cfg.Annotation.SupportedLanguages,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	pool, err := engine.NewPool(client.NewEngines(cfg.Engine, m), cfg.Engine.AcquireTimeout, m)
	if err != nil {
		slog.Error("failed to create engine pool", "error", err)
		os.Exit(1)
	}
	identifier := language.NewIdentifier(cfg.Annotation.SupportedLanguages, cfg.Annotation.LanguageConfidence)
	driver := annotate.NewDriver(pool, identifier, annotate.Settings{
		MinTextLength: cfg.Annotation.MinTextLength,
		Sampler:       tracing.NewSampler(cfg.Tracing.Enabled, cfg.Tracing.SampleRate),
	}, m)

	var resultCache *cache.ResultCache
	var redisClient *pkgredis.Client
	if cfg.Annotation.CacheEnabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			resultCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnnotationEvents)
	defer producer.Close()
	collector := analytics.NewCollector(producer, cfg.Annotation.EventBuffer, cfg.Annotation.EventBatchSize, cfg.Annotation.EventFlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	checker := health.NewChecker()
	checker.Register("engine_pool", func(ctx context.Context) health.ComponentHealth {
		inUse, size := pool.InUse(), pool.Size()
		status := health.StatusUp
		if inUse >= size {
			status = health.StatusDegraded
		}
		return health.ComponentHealth{Status: status, Message: fmt.Sprintf("%d/%d engines in use", inUse, size)}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, true))
	} else {
		checker.Register("redis", health.StaticCheck(health.StatusDegraded, "result caching disabled"))
	}

	h := handler.New(driver, resultCache, collector, cfg.Annotation.MaxUploadBytes)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("annotation service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("annotation service stopped")
}
