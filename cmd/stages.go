package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/pipeline"
)

type stageFunc func(ctx context.Context, p *pipeline.Pipeline) error

func stageFetch(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := p.Fetch(ctx)
	return err
}

func stageEnrich(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := p.Enrich(ctx)
	return err
}

func stageNormalize(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := p.Normalize(ctx)
	return err
}

func stageOverlay(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := p.Overlay(ctx)
	return err
}

func stageManifest(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := p.Manifest(ctx)
	return err
}

// newStageCmd runs one stage and writes the run summary, even when the
// stage fails.
func newStageCmd(use, short string, run stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)
			p, err := a.Pipeline()
			if err != nil {
				return err
			}
			runErr := run(cmd.Context(), p)
			_, finishErr := p.Finish(context.WithoutCancel(cmd.Context()))
			if runErr != nil {
				a.Logger().Error("stage failed", zap.String("stage", use), zap.Error(runErr))
			}
			return errors.Join(runErr, finishErr)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage in order",
		Long: `Runs fetch, enrich, normalize, overlay and manifest in order. Per-item
failures are recorded in the summary and never stop the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)
			p, err := a.Pipeline()
			if err != nil {
				return err
			}
			summary, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger().Info("run finished",
				zap.String("run_id", summary.RunID),
				zap.Int("published", summary.Published))
			return nil
		},
	}
}
