package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/numbering/internal/publish"
	"github.com/roach88/numbering/internal/server"
	"github.com/roach88/numbering/numbering"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// shutdownTimeout bounds the graceful drain after a signal.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the allocation HTTP API",
		Long: `Serve allocation over HTTP until interrupted.

Routes:
  POST /v1/allocations   {"prefix": "INV-", "initial_id": 10000, "count": 1}
  GET  /v1/series        ?prefix=INV-
  GET  /healthz
  GET  /metrics

When publish.brokers is configured every issued designator is also
published to the publish.topic Kafka topic.

Example:
  numbering serve --driver redis --db redis://localhost:6379/0 --listen :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	e, err := opts.openEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error closing store", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	alloc, err := e.newAllocator(numbering.NewMetrics(reg))
	if err != nil {
		return err
	}

	timeout, err := e.cfg.Server.Timeout()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	var publisher publish.Publisher = publish.Nop{}
	if len(e.cfg.Publish.Brokers) > 0 {
		publisher = publish.NewKafka(e.cfg.Publish.Brokers, e.cfg.Publish.Topic)
		e.logger.Info("publishing issuances", "brokers", e.cfg.Publish.Brokers, "topic", e.cfg.Publish.Topic)
	}
	defer publisher.Close()

	srv := server.New(alloc, server.Config{
		RequestTimeout: timeout,
		Registry:       reg,
		Publisher:      publisher,
		Logger:         e.logger,
	})

	listen := opts.Listen
	if listen == "" {
		listen = e.cfg.Server.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("server starting", "listen", listen, "driver", e.cfg.Store.Driver)
		errCh <- srv.Listen(listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("received signal, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}
	e.logger.Info("server stopped gracefully")
	return nil
}
