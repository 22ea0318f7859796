package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/auth"
	"github.com/abefas/tasktracker/config"
	"github.com/abefas/tasktracker/database"
	"github.com/abefas/tasktracker/handlers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tasktracker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	pflag.Parse()

	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := abtime.NewRealTime()

	tasks, err := database.Open(ctx, cfg.Store, clock, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tasks.Close(closeCtx); err != nil {
			logger.Error("closing store", "err", err)
		}
	}()

	verifier, err := auth.NewVerifier(ctx, cfg.Auth, clock, logger)
	if err != nil {
		return err
	}
	builder := &auth.ContextBuilder{
		Verifier:  verifier,
		Directory: tasks,
		Logger:    logger,
	}

	h := handlers.NewHandlers(tasks, logger)
	router := handlers.NewRouter(h, builder, cfg.CORS, logger)

	return serve(ctx, cfg.Listen, router, cfg.ShutdownTimeout, logger)
}

// serve runs the HTTP server until ctx is cancelled, then drains active
// requests for at most timeout.
func serve(ctx context.Context, address string, handler http.Handler, timeout time.Duration, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()
	logger.Info("Server listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", timeout)
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
