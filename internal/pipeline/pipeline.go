// Package pipeline runs the cover stages in order. Each stage reads the
// previous stage's state file, so stages can also be run one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/clock/system"
	"github.com/JakeFAU/lockscreen-covers/internal/config"
	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/hash/sha256"
	"github.com/JakeFAU/lockscreen-covers/internal/id/uuid"
	"github.com/JakeFAU/lockscreen-covers/internal/logging"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
	"github.com/JakeFAU/lockscreen-covers/internal/normalize"
)

// Deps are the collaborators a pipeline needs. Mirror, Catalog, Publisher,
// Headless and MetadataFetcher are optional.
type Deps struct {
	// Store holds images and manifests under storage.base_dir.
	Store normalize.Blobs
	// State holds the stage handoff files under storage.state_dir.
	State           normalize.Blobs
	Mirror          cover.BlobStore
	Catalog         cover.Catalog
	Publisher       cover.Publisher
	Fetcher         cover.Fetcher
	MetadataFetcher cover.Fetcher
	Headless        cover.Fetcher
	Clock           cover.Clock
	IDs             cover.IDGenerator
	Hasher          cover.Hasher
}

// StageReport is one stage's line in the run summary.
type StageReport struct {
	Stage    string `json:"stage"`
	Inputs   int    `json:"inputs"`
	Outputs  int    `json:"outputs"`
	Skipped  int    `json:"skipped"`
	Flagged  int    `json:"flagged"`
	Duration string `json:"duration"`
}

// Summary is written to summary.json at the end of every invocation.
type Summary struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Stages     []StageReport      `json:"stages"`
	Covers     int                `json:"covers"`
	Published  int                `json:"published"`
	Documents  map[string]string  `json:"documents,omitempty"`
	Skipped    []cover.SkipRecord `json:"skipped"`
	Flagged    []cover.FlagRecord `json:"flagged"`
}

// Pipeline wires configuration and collaborators into the stages.
type Pipeline struct {
	cfg     config.Config
	deps    Deps
	logger  *zap.Logger
	summary Summary
}

// New validates deps, fills defaults and allocates a run ID.
func New(cfg config.Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Store == nil || deps.State == nil {
		return nil, fmt.Errorf("pipeline requires artifact and state stores")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("pipeline requires a fetcher")
	}
	if deps.MetadataFetcher == nil {
		deps.MetadataFetcher = deps.Fetcher
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runID, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocate run id: %w", err)
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logging.ForRun(logger, runID),
		summary: Summary{
			RunID:     runID,
			StartedAt: deps.Clock.Now().UTC(),
		},
	}, nil
}

// RunID identifies this invocation in logs, the summary and the catalog.
func (p *Pipeline) RunID() string {
	return p.summary.RunID
}

// Summary returns what has been recorded so far.
func (p *Pipeline) Summary() Summary {
	return p.summary
}

// Run executes every stage in order. A stage error stops the run; the
// summary is still written.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{cover.StageFetch, func(ctx context.Context) error { _, err := p.Fetch(ctx); return err }},
		{cover.StageEnrich, func(ctx context.Context) error { _, err := p.Enrich(ctx); return err }},
		{cover.StageNormalize, func(ctx context.Context) error { _, err := p.Normalize(ctx); return err }},
		{cover.StageOverlay, func(ctx context.Context) error { _, err := p.Overlay(ctx); return err }},
		{cover.StageManifest, func(ctx context.Context) error { _, err := p.Manifest(ctx); return err }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			p.logger.Error("stage failed", zap.String("stage", step.name), zap.Error(err))
			summary, finishErr := p.Finish(context.WithoutCancel(ctx))
			return summary, errors.Join(fmt.Errorf("%s stage: %w", step.name, err), finishErr)
		}
	}
	return p.Finish(ctx)
}

// Finish writes summary.json, records the run in the catalog and pushes
// metrics when a Pushgateway is configured. Only the summary write can fail.
func (p *Pipeline) Finish(ctx context.Context) (Summary, error) {
	p.summary.FinishedAt = p.deps.Clock.Now().UTC()
	if p.summary.Skipped == nil {
		p.summary.Skipped = []cover.SkipRecord{}
	}
	if p.summary.Flagged == nil {
		p.summary.Flagged = []cover.FlagRecord{}
	}
	if err := p.saveState(ctx, StateSummary, p.summary); err != nil {
		return p.summary, err
	}

	if p.deps.Catalog != nil {
		stages := make([]string, len(p.summary.Stages))
		for i, s := range p.summary.Stages {
			stages[i] = s.Stage
		}
		run := cover.RunRecord{
			ID:         p.summary.RunID,
			StartedAt:  p.summary.StartedAt,
			FinishedAt: p.summary.FinishedAt,
			Stages:     stages,
			Covers:     p.summary.Covers,
			Published:  p.summary.Published,
			Skipped:    len(p.summary.Skipped),
			Flagged:    len(p.summary.Flagged),
		}
		if err := p.deps.Catalog.RecordRun(ctx, run); err != nil {
			p.logger.Warn("record run in catalog failed", zap.Error(err))
		}
	}

	if gateway := p.cfg.Metrics.PushgatewayURL; gateway != "" {
		if err := metrics.Push(ctx, gateway, p.cfg.Metrics.Job); err != nil {
			p.logger.Warn("metrics push failed", zap.String("gateway", gateway), zap.Error(err))
		}
	}

	p.logger.Info("run summary",
		zap.Int("stages", len(p.summary.Stages)),
		zap.Int("covers", p.summary.Covers),
		zap.Int("published", p.summary.Published),
		zap.Int("skipped", len(p.summary.Skipped)),
		zap.Int("flagged", len(p.summary.Flagged)),
		zap.Duration("elapsed", p.summary.FinishedAt.Sub(p.summary.StartedAt)))
	return p.summary, nil
}

func (p *Pipeline) record(stage string, inputs, outputs int, skipped []cover.SkipRecord, flagged []cover.FlagRecord, elapsed time.Duration) {
	metrics.ObserveStage(stage, elapsed)
	p.summary.Stages = append(p.summary.Stages, StageReport{
		Stage:    stage,
		Inputs:   inputs,
		Outputs:  outputs,
		Skipped:  len(skipped),
		Flagged:  len(flagged),
		Duration: elapsed.Round(time.Millisecond).String(),
	})
	p.summary.Skipped = append(p.summary.Skipped, skipped...)
	p.summary.Flagged = append(p.summary.Flagged, flagged...)
}
