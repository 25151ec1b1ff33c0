package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/palantir/lead-enrichment-pipeline/internal/api"
	"github.com/palantir/lead-enrichment-pipeline/internal/config"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
)

// Serve listens on cfg.Addr and serves the API until ctx is done, then shuts
// down gracefully.
func Serve(ctx context.Context, cfg config.Server, st store.Store, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, cfg, st, logger)
}

// ServeListener is Serve on an existing listener, which it closes.
func ServeListener(ctx context.Context, ln net.Listener, cfg config.Server, st store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	apiServer := api.New(st,
		api.WithLogger(logger.With("component", "api")),
		api.WithCORS(cfg.CORSOrigins),
	)
	apiServer.RequireBearerToken(cfg.APIToken)

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("api listening", "addr", ln.Addr().String(), "auth", cfg.APIToken != "")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("api shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("api stopped")
	return nil
}
