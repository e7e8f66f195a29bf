// Package main is the entry point for the Hornet Cache Server, the refresh
// orchestrator that keeps AI-analyzed DeFi yield data warm in Redis for the
// frontends that read it.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/hornet-cache/internal/cachestore"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/fetch"
	"github.com/yourorg/hornet-cache/internal/gemini"
	"github.com/yourorg/hornet-cache/internal/orchestrator"
	"github.com/yourorg/hornet-cache/internal/otel"
	"github.com/yourorg/hornet-cache/internal/scheduler"
	"github.com/yourorg/hornet-cache/internal/server"
	"github.com/yourorg/hornet-cache/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Missing .env is fine; the environment itself is authoritative.
	_ = godotenv.Load()

	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	logrus.Info("Starting Hornet Cache Server...")

	// The cache is the whole service. Refuse to serve before the store is up.
	store := cachestore.New(cachestore.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Connect(connectCtx); err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}

	var metrics *orchestrator.Metrics
	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = orchestrator.NewMetrics(registry)
		metricsSrv = startMetricsListener(cfg.MetricsPort, registry)
	}

	orch := orchestrator.New(orchestrator.Options{
		Store:    store,
		Fetcher:  fetch.NewDeFiLlamaClient(cfg),
		Analyzer: gemini.NewClient(cfg),
		Notifier: webhook.New(webhook.Config{
			URL:       cfg.WebhookURL,
			APIKey:    cfg.WebhookAPIKey,
			OnError:   cfg.WebhookOnError,
			OnSuccess: cfg.WebhookOnSuccess,
		}),
		CacheTTL:        cfg.CacheTTL,
		RefreshInterval: time.Duration(cfg.RefreshIntervalMinutes) * time.Minute,
		Metrics:         metrics,
	})

	sched := scheduler.New(orch, cfg.RefreshIntervalMinutes, cfg.RefreshCron())

	srv := server.New(server.Options{
		Orchestrator: orch,
		Store:        store,
		Scheduler:    sched,
		Config:       cfg,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // manual refresh waits on two upstreams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":            httpSrv.Addr,
			"env":             cfg.Env,
			"refreshInterval": cfg.RefreshIntervalMinutes,
		}).Info("Server running")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logrus.Infof("%s received, shutting down gracefully...", sig)

	ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown failed: %v", err)
	} else {
		logrus.Info("HTTP server closed")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}

	sched.Stop()
	waitForRefresh(ctx, orch)

	if err := store.Close(); err != nil {
		logrus.Errorf("Redis disconnect failed: %v", err)
	}
	logrus.Info("Shutdown complete")
}

// waitForRefresh gives an in-flight refresh until the shutdown deadline to
// finish its cache writes, so a kill signal mid-cycle does not leave a
// half-written cache generation behind.
func waitForRefresh(ctx context.Context, orch *orchestrator.Orchestrator) {
	if !orch.InProgress() {
		return
	}
	logrus.Info("Waiting for in-flight refresh to finish")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Warn("Shutdown deadline reached with refresh still running")
			return
		case <-ticker.C:
			if !orch.InProgress() {
				return
			}
		}
	}
}

// startMetricsListener serves Prometheus metrics on a separate port so the
// public API surface stays free of operational endpoints.
func startMetricsListener(port string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Infof("Metrics listener on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("Metrics listener failed: %v", err)
		}
	}()
	return srv
}

func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
