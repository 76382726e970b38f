// Package cmd defines and implements the CLI commands for the comics executable.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/app"
	"github.com/JakeFAU/comic-tracker/internal/config"
	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/logging"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"
)

// forceMigrateAnnotation marks commands that apply the schema regardless of catalog.migrate.
const forceMigrateAnnotation = "force-migrate"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	RunPass(ctx context.Context) (dispatcher.PassReport, error)
	RepairMirror(ctx context.Context) (mirror.RepairReport, error)
	Handler() http.Handler
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (App, error) {
	return app.NewApp(ctx, cfg, logger, opts)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "comics",
		Short: "Tracks chapter releases across comic publishers.",
		Long: `comics scrapes the latest-release listings of the configured publishers,
reconciles each observed release into the catalog and its JSON mirror, and
sends batched alerts for tracked comics with unread chapters.`,
		SilenceUsage: true,

		// Build the application once the subcommand is known and store it in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			opts := app.Options{ForceMigrate: cmd.Annotations[forceMigrateAnnotation] == "true"}
			appInstance, err := newApp(cmd.Context(), cfg, logger, opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},

		// Shut services down and flush the logger.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			appInstance.Close()
			_ = appInstance.Logger().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); COMICS_* env vars override it")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMirrorCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// resolveApp fetches the App built by the root command.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// resolveConfig returns the configuration loaded by the root command.
func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey).(config.Config)
	return cfg
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		os.Exit(1)
	}
}
