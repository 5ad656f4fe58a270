// Package cmd defines and implements the CLI commands for the sessioncrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/app"
	"github.com/JakeFAU/council-sessions/internal/config"
	"github.com/JakeFAU/council-sessions/internal/discovery"
	"github.com/JakeFAU/council-sessions/internal/downloader"
	"github.com/JakeFAU/council-sessions/internal/extractor"
	"github.com/JakeFAU/council-sessions/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey appKeyType = "app"
	cfgKey appKeyType = "config"
)

// App defines the services the commands use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	List(ctx context.Context, relist bool) (discovery.Summary, error)
	Extract(ctx context.Context) (extractor.Result, error)
	Download(ctx context.Context) (downloader.Result, error)
	Run(ctx context.Context, relist bool) (app.Report, error)
	Handler() http.Handler
}

// newApp is the application factory. It's a variable so tests can
// replace it with a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile   string
	verbosity int
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	runOpts := &walkOptions{}

	cmd := &cobra.Command{
		Use:   "sessioncrawler",
		Short: "Discovers council sessions and collects their documents.",
		Long: `sessioncrawler walks the paginated council decisions listing, records every
dated session it has not seen before, attaches agenda sections from each
session page and downloads the matching documents.

Without a subcommand it performs a full run.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build and inject the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.WithVerbosity(cfg.Logging.Development, opts.verbosity)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx = context.WithValue(ctx, cfgKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},

		// Shut services down once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFull(cmd, runOpts.relist)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	cmd.Flags().BoolVar(&runOpts.relist, "relist", false, "ignore stored dates and walk back to the stop date")

	cmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newExtractCmd(),
		newDownloadCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sessioncrawler: %v\n", err)
		stop()
		os.Exit(1)
	}
}
