package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fyrsmithlabs/issueflow/internal/http"
	"github.com/fyrsmithlabs/issueflow/internal/intake"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and NATS intake",
		Long: `Serve the HTTP API and, when nats.enabled is set, consume issues from NATS.
With rules.watch set, edits to the rule directory are picked up without a
restart. The service stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return serve(ctx, a)
		},
	}
}

// serve blocks until ctx is done or the HTTP server fails.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger

	server, err := httpserver.NewServer(a.engine, logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Metrics: httpserver.NewHTTPMetrics(a.telemetry.Meter(tracerName), logger),
	})
	if err != nil {
		return err
	}

	var sub *intake.Subscriber
	if cfg.NATS.Enabled {
		nc, err := intake.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))

		sub, err = intake.NewSubscriber(nc, a.engine, cfg.NATS, logger)
		if err != nil {
			return err
		}
		if err := sub.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Rules.Watch {
		w, err := rules.NewWatcher(cfg.Rules.Dir, cfg.Rules.Debounce.Duration(), logger, func(files []*rules.File) {
			if err := a.load(ctx, files); err != nil {
				logger.Error(ctx, "rules rejected, keeping previous rules", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	if every := cfg.Server.HeartbeatInterval.Duration(); every > 0 {
		go heartbeat(ctx, logger, a.engine, every)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info(ctx, "issueflow serving",
		zap.String("version", version),
		zap.Int("phases", len(a.engine.Phases())),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if sub != nil {
		if err := sub.Close(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "intake drain", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	return serveErr
}

// heartbeat logs a liveness line every interval until ctx is done.
func heartbeat(ctx context.Context, logger *logging.Logger, engine httpserver.Engine, every time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Heartbeat(ctx, "issueflow alive",
				zap.Int("phases", len(engine.Phases())),
				zap.Duration("uptime", time.Since(start).Round(time.Second)),
			)
		}
	}
}
