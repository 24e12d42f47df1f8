package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/agrimrv/backend/internal/app"
	"github.com/agrimrv/backend/internal/config"
	"github.com/agrimrv/backend/internal/observability"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "err", err)
		os.Exit(1)
	}
	defer a.Close()
	if a.InMemory() {
		logger.Error("poller needs a shared store; STORE_MODE=memory runs the poller inside the api")
		os.Exit(1)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instances := int(cfg.PollerInstances)
	if instances < 1 {
		instances = 1
	}

	metricsServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(sigCtx)
	for i := 0; i < instances; i++ {
		poller := a.NewPoller()
		g.Go(func() error {
			return poller.Run(gctx, cfg.PollerInterval)
		})
	}
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("poller started",
		"instances", instances,
		"interval", cfg.PollerInterval.String(),
		"batch_size", cfg.PollerBatchSize,
		"concurrency", cfg.PollerConcurrency,
	)
	if err := g.Wait(); err != nil {
		logger.Error("poller stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("poller stopped")
}
