package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored pages over HTTP",
		Long: `Serves GET /api/{model}/{service}/{layer}/{neuron} from the data root,
plus health, metrics and batch progress routes. PORT overrides server.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a App) error {
				reg, err := a.OpenRegistry()
				if err != nil {
					return err
				}
				port := e.cfg.Server.Port
				if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
					port = p
				}
				srv := &http.Server{
					Addr:              fmt.Sprintf(":%d", port),
					Handler:           a.Server(reg).Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				return runServer(cmd.Context(), srv, e.cfg.Server.ShutdownTimeout, e.logger)
			})
		},
	}
}

// runServer listens until ctx is done, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
