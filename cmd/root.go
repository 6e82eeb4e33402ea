// Package cmd defines and implements the CLI commands for the neuronav executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/api"
	"github.com/JakeFAU/neuronav/internal/app"
	"github.com/JakeFAU/neuronav/internal/config"
	"github.com/JakeFAU/neuronav/internal/logging"
	"github.com/JakeFAU/neuronav/internal/registry"
	"github.com/JakeFAU/neuronav/internal/scrape"
)

// App defines the services that commands use. Tests inject a fake through
// newApp.
type App interface {
	Scraper() *scrape.Scraper
	OpenRegistry() (*registry.Registry, error)
	Server(reg *registry.Registry) *api.Server
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, app.Options{Config: cfg, Logger: logger})
}

const defaultShutdownTimeout = 10 * time.Second

// env is filled in by the root command's PersistentPreRunE.
type env struct {
	cfgFile  string
	dataRoot string
	dev      bool

	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:   "neuronav",
		Short: "Scrape, store and serve neuron importance pages.",
		Long: `neuronav downloads neuron importance pages for a model layer with
bounded concurrency, stores them in a compact compressed form under a data
root, and serves them back as JSON through a small HTTP API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return e.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&e.dataRoot, "data", "", "data root, overrides data.root")
	cmd.PersistentFlags().BoolVar(&e.dev, "dev", false, "development logging")

	cmd.AddCommand(
		newInitCmd(e),
		newAddServiceCmd(e),
		newScrapeCmd(e),
		newServeCmd(e),
	)
	return cmd
}

func (e *env) load() error {
	cfg, err := config.Load(e.cfgFile)
	if err != nil {
		return err
	}
	if e.dataRoot != "" {
		cfg.Data.Root = e.dataRoot
	}
	if e.dev {
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	e.cfg = cfg
	e.logger = logger
	return nil
}

// withApp builds the application services, runs fn and closes them.
func (e *env) withApp(ctx context.Context, fn func(App) error) (err error) {
	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		timeout := e.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			e.logger.Warn("error closing application services", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()
	return fn(a)
}

// Execute runs the root command until it returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
