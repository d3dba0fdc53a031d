// storesyncd - Keeps storefront collections (cart, compare list, listing)
// in sync with a remote backend using optimistic updates.
// Serves REST, server-sent events and MCP for the same sessions.
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

	"storesync/internal/adapter"
	"storesync/internal/config"
	"storesync/internal/discovery"
	"storesync/internal/handler"
	"storesync/internal/middleware"
	"storesync/internal/rest"
	"storesync/internal/session"
	"storesync/internal/transport"
	"storesync/internal/woocommerce"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("store_id", cfg.StoreID),
		slog.String("backend_type", cfg.BackendType),
		slog.String("environment", cfg.Environment),
		slog.String("base_url", cfg.Backend.BaseURL),
		slog.Any("collections", cfg.Backend.Collections),
		slog.Bool("strict", cfg.Strict()),
	)

	factory, err := newBackendFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating backend factory: %w", err)
	}

	sessions := session.NewManager(session.Options{
		Factory:       factory,
		Collections:   cfg.Backend.Collections,
		Strict:        cfg.Strict(),
		Timeout:       cfg.RequestTimeout,
		DefaultLocale: cfg.DefaultLocale,
		Logger:        logger,
	})

	h := handler.New(sessions, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts. The event stream clears its own
	// write deadline.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Session teardown ends open event streams, so it runs alongside
		// the server drain rather than after it.
		sessionsDone := make(chan error, 1)
		go func() { sessionsDone <- sessions.Shutdown(shutdownCtx) }()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		if err := <-sessionsDone; err != nil {
			logger.Warn("sessions did not settle", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	return nil
}

// newBackendFactory returns the per-session backend constructor for the
// configured dialect. The transport and capability discovery are shared.
func newBackendFactory(cfg *config.Config, logger *slog.Logger) (adapter.Factory, error) {
	rt := transport.New(transport.Options{ChromeFingerprint: cfg.ChromeTLS})

	switch cfg.BackendType {
	case config.BackendREST:
		var caps adapter.Capabilities = adapter.NoCapabilities{}
		if cfg.Discovery {
			fetcher := discovery.NewHTTPFetcher(discovery.FetcherConfig{Transport: rt})
			caps = discovery.NewCapabilities(fetcher, cfg.Backend.BaseURL, logger)
		}
		return func(credential string) (adapter.Backend, error) {
			return rest.New(rest.Config{
				BaseURL:      cfg.Backend.BaseURL,
				Credential:   credential,
				APIKey:       cfg.Backend.APIKey,
				Overrides:    cfg.Backend.Endpoints,
				Transport:    rt,
				Timeout:      cfg.RequestTimeout,
				Capabilities: caps,
			})
		}, nil
	case config.BackendWooCommerce:
		return func(credential string) (adapter.Backend, error) {
			return woocommerce.New(woocommerce.Config{
				StoreURL:  cfg.Backend.BaseURL,
				CartToken: credential,
				Transport: rt,
				Timeout:   cfg.RequestTimeout,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.BackendType)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	var logger *slog.Logger
	if cfg.Environment == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	return logger
}
