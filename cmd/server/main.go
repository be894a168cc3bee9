package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/Divas-Gupta30/workflow-builder/internal/api"
	"github.com/Divas-Gupta30/workflow-builder/internal/app"
	"github.com/Divas-Gupta30/workflow-builder/internal/config"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Settings, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := api.NewServer(api.Deps{
		Store:          a.Store,
		Runner:         a.Orchestrator,
		Knowledge:      a.Knowledge,
		Admission:      a.Admission,
		Identity:       a.Identity,
		Metrics:        m,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 5m", func() {
		throttled, windows := a.Admission.Sweep()
		logger.Debug("admission state swept", "identities", throttled, "windows", windows)
	}); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	sweeper.Start()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("workflow service starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")
	<-sweeper.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}
