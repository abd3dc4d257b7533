package cli

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

	"github.com/spf13/cobra"

	"github.com/renderinc/channel-search/internal/indexer"
	"github.com/renderinc/channel-search/internal/web"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var (
		host     string
		port     int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serve search, channel stats and on-demand indexing over HTTP.
With --update-interval the periodic update loop runs alongside the API.

Example:
  channel-search serve --port 3000
  channel-search serve --update-interval 6h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			var ingester indexer.Ingester
			if a.indexer != nil {
				ingester = a.indexer
			} else {
				a.logger.Warn("no source configured, indexing endpoint disabled")
			}

			srv := web.NewServer(a.db, a.engine, ingester, web.Options{
				DefaultLimit: a.cfg.Search.DefaultLimit,
				MaxLimit:     a.cfg.Search.MaxLimit,
				IndexLimit:   a.cfg.Indexer.DefaultLimit,
				Logger:       a.logger,
				Gatherer:     a.registry,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var updates *indexer.Scheduler
			if interval > 0 {
				if err := a.requireIndexer(); err != nil {
					return err
				}
				updates = a.scheduler
			}

			httpServer := &http.Server{
				Addr:              a.cfg.Addr(),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serveUntilDone(ctx, cmd.Context(), httpServer, updates, interval, a.logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "host to bind to")
	cmd.Flags().IntVar(&port, "port", 6893, "port to listen on")
	cmd.Flags().DurationVar(&interval, "update-interval", 0, "also run periodic updates at this interval (0 = off)")

	return cmd
}

// serveUntilDone runs httpServer until it fails or ctx ends. The update loop
// runs on base, not ctx: on shutdown the channel in flight finishes with a
// live context before the listener closes.
func serveUntilDone(ctx, base context.Context, httpServer *http.Server, updates *indexer.Scheduler, interval time.Duration, logger *slog.Logger) error {
	if updates != nil {
		if err := updates.StartPeriodicUpdate(base, interval); err != nil {
			return err
		}
		defer stopUpdates(updates)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", "http://"+httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if updates != nil {
		stopUpdates(updates)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
