// Package server orchestrates all components: script registry, dispatcher,
// NATS subscription, database and the HTTP host.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/apprunner/internal/config"
	"github.com/morezero/apprunner/pkg/commsutil"
)

const logPrefix = "server:server"

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel, os.Stdout)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting apprunner", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Scripts, database and COMMS
	host, err := NewHost(ctx, cfg, HostOptions{Comms: true, Database: true})
	if err != nil {
		return err
	}
	defer host.Close()

	// Step 2: Answer dispatch requests over COMMS
	if nc := host.Comms(); nc != nil {
		subject := cfg.DispatchSubject
		if subject == "" {
			subject = commsutil.SubjectDispatch
		}
		sub, err := host.Dispatcher.Subscribe(ctx, nc, subject)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	}

	// Step 3: HTTP host
	httpServer := &http.Server{Addr: cfg.ListenAddr(), Handler: host.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, cfg.ListenAddr()))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - apprunner is ready with %d scripts", logPrefix, host.Scripts.Len()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	cancel()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
