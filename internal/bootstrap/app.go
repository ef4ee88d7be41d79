package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eduask/backend/internal/infra/config"
)

// Consumer is a long-running background loop (the embed worker's RabbitMQ
// consumer) that blocks until ctx is cancelled.
type Consumer func(ctx context.Context) error

// App encapsulates the HTTP server and embed-worker consumer lifecycles.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *http.Server
	consumer Consumer
}

// NewApp is used by Wire to build the runnable app. consumer may be nil, in
// which case only the HTTP server runs (e.g. tests that don't stand up a
// bus).
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, consumer Consumer) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server, consumer: consumer}
}

// Run starts the HTTP server and, if configured, the embed-worker consumer,
// and blocks until ctx is cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	if a.consumer != nil {
		go func() {
			a.logger.Info("embed worker consumer starting")
			if err := a.consumer(ctx); err != nil {
				errCh <- fmt.Errorf("embed worker consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
