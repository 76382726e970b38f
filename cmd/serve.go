package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which exposes the operational HTTP API.
func newServeCmd() *cobra.Command {
	var (
		port            int
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the operational HTTP API",
		Long: `Repairs the JSON mirror, then serves /healthz, /readyz, /metrics and the /v1
routes that run passes, flush alerts and repair the mirror. SIGINT and SIGTERM
drain in-flight requests before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), appInstance, port, shutdownTimeout)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (defaults to server.port)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 0, "drain timeout (defaults to server.shutdown_timeout_seconds)")
	return cmd
}

func serve(parent context.Context, appInstance App, port int, shutdownTimeout time.Duration) error {
	logger := appInstance.Logger()
	cfg := resolveConfig(parent)
	if port == 0 {
		port = cfg.Server.Port
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = cfg.ShutdownTimeout()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := appInstance.RepairMirror(ctx)
	if err != nil {
		logger.Warn("startup mirror repair failed", zap.Error(err))
	} else {
		logger.Info("startup mirror repair finished",
			zap.Int("upserted", len(report.Upserted)),
			zap.Int("removed", len(report.Removed)),
		)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           appInstance.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
