// Package cmd defines the lockcovers command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/app"
	"github.com/JakeFAU/lockscreen-covers/internal/config"
	"github.com/JakeFAU/lockscreen-covers/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp loads configuration and builds services. Tests replace it.
var newApp = func(ctx context.Context, cfgFile string) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "lockcovers",
		Short: "Builds lock-screen wallpapers from magazine covers.",
		Long: `lockcovers downloads the magazine cover archive, looks up who and what is
on each cover, fits every image to a phone lock screen, draws the issue
details on it and publishes JSON manifests for the phone automation.

Each stage can be run on its own; stages hand results to each other through
state files under storage.state_dir.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml); LOCKCOVERS_* env vars override it")

	cmd.AddCommand(
		newRunCmd(),
		newStageCmd("fetch", "Download covers for every candidate URL", stageFetch),
		newStageCmd("enrich", "Look up metadata for fetched covers", stageEnrich),
		newStageCmd("normalize", "Fit fetched covers to the lock-screen size", stageNormalize),
		newStageCmd("overlay", "Draw issue details on normalized covers", stageOverlay),
		newStageCmd("manifest", "Verify overlayed covers and publish manifests", stageManifest),
	)
	return cmd
}

// closeApp shuts services down and flushes the logger.
func closeApp(a *app.App) {
	a.Close()
	_ = a.Logger().Sync()
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the command line until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockcovers: %v\n", err)
		os.Exit(1)
	}
}
