package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves /v1/scrape, the batch progress endpoints, /metrics and health
probes on server.port (PORT overrides it). SIGINT or SIGTERM drains in-flight
requests and background scrapes before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt, listenAddr(rt.cfg.Server.Port))
		},
	}
}

func listenAddr(port int) string {
	if env := os.Getenv("PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			port = p
		}
	}
	return net.JoinHostPort("", strconv.Itoa(port))
}

func serve(ctx context.Context, rt *runtime, addr string) error {
	logger := rt.logger.Named("api")
	apiServer := api.NewServer(rt.app, rt.app.Progress(), logger, api.Config{
		RequestTimeout: time.Duration(rt.cfg.Server.RequestTimeoutSeconds) * time.Second,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
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
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := errors.Join(srv.Shutdown(shutdownCtx), apiServer.Shutdown(shutdownCtx))
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
