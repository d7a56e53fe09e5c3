package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/app"
	"github.com/JakeFAU/paperscraper/internal/config"
	"github.com/JakeFAU/paperscraper/internal/logging"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/store"
	"github.com/JakeFAU/paperscraper/internal/telemetry"
)

const closeTimeout = 30 * time.Second

// Application is what commands need from the service container.
type Application interface {
	Fetch(ctx context.Context, records []scraper.Record, transform scraper.Transform, batchSize, limit int) (app.Run, error)
	SearchAndFetch(ctx context.Context, query string, transform scraper.Transform, batchSize, limit int) (app.Run, error)
	Progress() store.AttemptRepository
	Close(ctx context.Context) error
}

// newApp is swapped out by tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Application, error) {
	return app.New(ctx, cfg, logger)
}

type runtimeKey struct{}

type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    Application
	tracer *sdktrace.TracerProvider
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "paperscraper",
		Short: "Fetch open copies of academic papers through prioritized fallback strategies.",
		Long: `paperscraper downloads the PDF of each paper it is given by trying a
prioritized list of sources (arXiv, PubMed Central, open access links, a DOI
mirror and publisher landing pages) until one yields a valid PDF.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			tp, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.TracingConfig{
				ServiceName: cfg.Telemetry.ServiceName,
				SampleRatio: cfg.Telemetry.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			application, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = tp.Shutdown(cmd.Context())
				return fmt.Errorf("initialize application services: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, app: application, tracer: tp}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			if err := rt.app.Close(ctx); err != nil {
				rt.logger.Warn("close application", zap.Error(err))
			}
			if err := rt.tracer.Shutdown(ctx); err != nil {
				rt.logger.Warn("shutdown tracer", zap.Error(err))
			}
			logging.Sync(rt.logger)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newFetchCmd(), newSearchCmd(), newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
