package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grove-ledger-go/internal/api"
	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"
	"grove-ledger-go/internal/metrics"
	"grove-ledger-go/internal/settler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting grove settlement worker")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	workflows, err := services.Workflows(ctx)
	if err != nil {
		zap.L().Fatal("Failed to open harvest workflows", zap.Error(err))
	}

	s, err := settler.NewSettler(cfg.Settler, workflows...)
	if err != nil {
		zap.L().Fatal("Failed to create settler", zap.Error(err))
	}

	// collectors register on first use; touch them so /metrics is complete from the start
	metrics.Ledger()
	status := api.NewLedgerService(services.DbService, services.Ledger, workflows...)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", status.Handler())
	server := &http.Server{Addr: cfg.Settler.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zap.L().Info("Serving metrics and status API", zap.String("addr", cfg.Settler.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("HTTP server failed", zap.Error(err))
		}
	}()

	s.Start(ctx)
	zap.L().Info("Settler running",
		zap.Int("assets", len(workflows)),
		zap.Duration("polling_interval", cfg.Settler.PollingInterval))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping settler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Settler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server shutdown failed", zap.Error(err))
	}
}
