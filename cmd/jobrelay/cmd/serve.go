package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/core/middleware"
	"github.com/miladsoleymani/jobrelay/internal/api"
	"github.com/miladsoleymani/jobrelay/internal/etl"
	"github.com/miladsoleymani/jobrelay/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the topic dispatcher",
	Long: `Connect to the configured broker, register the ETL job and status
handlers, start consuming and serve the HTTP API until SIGINT or SIGTERM.

The process exits with status 1 when the broker cannot be reached, when
dispatch cannot start or when dispatch fails while running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to start server:", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.EnvFile != "" {
		logger.Info("loaded environment file", zap.String("file", cfg.EnvFile))
	}
	logger.Info("starting jobrelay", zap.Stringer("config", cfg))

	col, err := metrics.New()
	if err != nil {
		logger.Error("failed to create metrics collector", zap.Error(err))
		return err
	}

	b, err := newBroker(cfg, cfg.GroupID, logger)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return err
	}

	opts := []core.Option{
		core.WithLogger(logger.Named("core")),
		core.WithRetryPolicy(retryPolicy(cfg)),
		core.WithPublishObserver(col),
	}
	if cfg.DeadLetterTopic != "" {
		opts = append(opts, core.WithDeadLetterTopic(cfg.DeadLetterTopic))
	}
	client := core.New(b, opts...)
	client.Use(middleware.Recovery(logger))
	client.Use(middleware.Logging(logger))
	client.Use(middleware.Metrics(col))
	client.Use(middleware.Timeout(cfg.HandlerTimeout))

	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return err
	}

	proc := etl.NewProcessor(cfg.JobsTopic, cfg.StatusTopic, logger.Named("etl"))
	if err := proc.Register(client); err != nil {
		client.Disconnect(context.Background())
		logger.Error("failed to register handlers", zap.Error(err))
		return err
	}
	// Dispatch is stopped by Disconnect, not by the signal context.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		client.Disconnect(context.Background())
		logger.Error("failed to start server", zap.Error(err))
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Config{
			Publisher:   client,
			JobsTopic:   cfg.JobsTopic,
			StatusTopic: cfg.StatusTopic,
			Logger:      logger.Named("http"),
			Recorder:    col,
			Metrics:     col.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("BOR Message service listening on port %d", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, disconnecting")
	case <-client.Done():
		runErr = client.Err()
		if runErr != nil {
			logger.Error("dispatch stopped", zap.Error(runErr))
		}
	case runErr = <-srvErr:
		logger.Error("http server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	client.Disconnect(shutdownCtx)
	logger.Info("stopped")
	return runErr
}
