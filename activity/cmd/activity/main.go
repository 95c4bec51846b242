package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/app"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/config"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/handlers"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/middleware"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/server"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).With(logging.Service("activity"))
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("activity service failed", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, logger, app.Options{Migrate: true, Sinks: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", logging.Error(err))
		}
	}()

	go c.Scheduler.Start(ctx)
	defer c.Scheduler.Stop()

	handler := handlers.NewHandler(handlers.Deps{
		Sessions:      c.Sessions,
		Recorder:      c.Recorder,
		Impersonation: c.Impersonation,
		Stats:         c.Stats,
		Principals:    c.Repo,
		Health:        c.Repo,
		Logger:        logger,
	})
	auth := middleware.NewAuthMiddleware(c.Tokens, cfg.Auth.InternalToken)
	if cfg.Auth.InternalToken == "" {
		logger.Warn("auth.internal_token is empty; session registration is disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, auth, c.Pipeline),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("activity service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
