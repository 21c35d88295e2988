package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/app"
	"github.com/Guizzs26/go-crm-sync/internal/config"
	"github.com/Guizzs26/go-crm-sync/pkg/infra"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Fatal error wiring dispatcher", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go startObservabilityServer(ctx, cfg.MetricsPort, a, logger)

	logger.Info("Dispatcher started",
		"pid", os.Getpid(),
		"batch_size", cfg.BatchSize,
		"poll_interval", cfg.PollInterval,
		"broker", a.Broker != nil,
	)

	a.RunDispatcher(ctx)
	logger.Info("Shutdown complete")
}

func startObservabilityServer(ctx context.Context, port string, a *app.App, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Repo.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("DISPATCHER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
