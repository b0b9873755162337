package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vdoc/internal/config"
	"github.com/roach88/vdoc/internal/docstore"
	"github.com/roach88/vdoc/internal/metrics"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine until interrupted",
		Long: `Keep the document store open with the sync alarm armed.

Pending oplog entries are drained in the background, expired transactions are
cleaned up every transactions.cleanup_interval, and when metrics are enabled
Prometheus metrics are served on metrics.addr. SIGINT or SIGTERM drains the
oplog one last time and exits.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.logger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := docstore.Connect(ctx, cfg,
		docstore.WithLogger(logger),
		docstore.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		return storeExit("failed to connect", err)
	}
	logger.Info("serving",
		zap.String("local", cfg.Local.Path),
		zap.String("remote", cfg.Remote.Driver),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, registry, logger)
		})
	}
	g.Go(func() error {
		return cleanupLoop(gctx, client, cfg.Transactions.CleanupInterval, logger)
	})

	runErr := g.Wait()
	logger.Info("shutting down")
	closeErr := client.Close()
	if closeErr != nil {
		logger.Error("error closing document store", zap.Error(closeErr))
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "serve failed", runErr)
	}
	if closeErr != nil {
		return WrapExitError(ExitFailure, "close failed", closeErr)
	}
	return nil
}

// serveMetrics serves the registry until ctx is done.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, registry *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// cleanupLoop runs CleanupExpired every interval until ctx is done. Failures
// are logged and retried on the next tick.
func cleanupLoop(ctx context.Context, client *docstore.Client, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := client.CleanupExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("transaction cleanup failed", zap.Error(err))
				continue
			}
			if res.Removed > 0 {
				logger.Info("cleaned expired transactions", zap.Int64("removed", res.Removed))
			}
		}
	}
}
