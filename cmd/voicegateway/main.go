package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberguardng/voicegateway/internal/app"
	"github.com/cyberguardng/voicegateway/internal/config"
	"github.com/cyberguardng/voicegateway/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	built, err := app.Build(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Start(runCtx)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"media_stream_path", cfg.MediaStreamPath,
			"model", cfg.RealtimeModel,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("listen error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Media streams are hijacked connections that Shutdown does not track.
	canceled, drained := built.Drain(shutdownCtx)
	if !drained {
		logger.Warn("calls still tearing down at shutdown deadline", "canceled", canceled, "remaining", built.Registry.ActiveCount())
	} else if canceled > 0 {
		logger.Info("live calls ended", "canceled", canceled)
	}

	runCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
}
