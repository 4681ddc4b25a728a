// Package lifecycle hosts a long-running service plus its HTTP surface and
// handles signal-driven shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	ShutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Service defines the interface that all services must implement.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for running a service.
type ServerOptions struct {
	ListenAddr  string
	ServiceName string
	Service     Service
	Handler     http.Handler
	Logger      zerolog.Logger
}

// RunServer starts a service and its HTTP server, then blocks until a
// shutdown signal, a service error, or context cancellation.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := opts.Logger
	log.Info().Str("service", opts.ServiceName).Msg("starting service")

	httpServer := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           opts.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		if err := opts.Service.Start(ctx); err != nil {
			select {
			case errChan <- err:
			default:
				log.Error().Err(err).Msg("service error")
			}
		}
	}()

	go func() {
		log.Info().Str("addr", opts.ListenAddr).Msg("starting http server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
				log.Error().Err(err).Msg("http server error")
			}
		}
	}()

	return handleShutdown(ctx, cancel, httpServer, opts.Service, errChan, log)
}

func handleShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	httpServer *http.Server,
	svc Service,
	errChan chan error,
	log zerolog.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("initiating shutdown")
	case err := <-errChan:
		log.Error().Err(err).Msg("initiating shutdown after error")
		runErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during service shutdown")

		if runErr == nil {
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
	}

	return runErr
}
