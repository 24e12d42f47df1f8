package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrimrv/backend/internal/app"
	"github.com/agrimrv/backend/internal/auth"
	"github.com/agrimrv/backend/internal/config"
	"github.com/agrimrv/backend/internal/http/handlers"
	"github.com/agrimrv/backend/internal/observability"
	"github.com/agrimrv/backend/internal/server"
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

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:        a.Pinger,
		Gatherer:      a.Registry,
		JWTManager:    auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey),
		FarmerHandler: handlers.NewFarmerHandler(a.Profiles),
		AnchorHandler: handlers.NewAnchorHandler(a.Anchors),
		OffersHandler: handlers.NewOffersHandler(a.Eligibility),
		AdminHandler:  handlers.NewAdminHandler(a.Admin),
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The in-memory store is process-local, so the poller has to live here.
	if a.InMemory() {
		poller := a.NewPoller()
		go func() {
			_ = poller.Run(sigCtx, cfg.PollerInterval)
		}()
		logger.Info("in-process poller started", "interval", cfg.PollerInterval.String())
	}

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr(), "store", cfg.StoreMode, "ledger", cfg.LedgerMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
