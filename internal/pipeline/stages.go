package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/acquire"
	"github.com/JakeFAU/lockscreen-covers/internal/config"
	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/eras"
	"github.com/JakeFAU/lockscreen-covers/internal/headless/detector"
	"github.com/JakeFAU/lockscreen-covers/internal/manifest"
	"github.com/JakeFAU/lockscreen-covers/internal/metadata"
	"github.com/JakeFAU/lockscreen-covers/internal/normalize"
	"github.com/JakeFAU/lockscreen-covers/internal/overlay"
	"github.com/JakeFAU/lockscreen-covers/internal/policy/ratelimit"
	"github.com/JakeFAU/lockscreen-covers/internal/policy/retry"
	"github.com/JakeFAU/lockscreen-covers/internal/policy/robots"
)

// Notification is published once manifests are written.
type Notification struct {
	RunID       string            `json:"run_id"`
	Entries     int               `json:"entries"`
	BaseURL     string            `json:"base_url"`
	Documents   map[string]string `json:"documents"`
	PublishedAt time.Time         `json:"published_at"`
}

// Fetch expands the era table into candidates, downloads them and writes
// covers.json.
func (p *Pipeline) Fetch(ctx context.Context) (acquire.Result, error) {
	start := time.Now()
	log := p.logger.Named(cover.StageFetch)

	gen, err := eras.NewGenerator(p.cfg.Fetch.BaseURL, eraTable(p.cfg.Eras))
	if err != nil {
		return acquire.Result{}, fmt.Errorf("build candidate generator: %w", err)
	}
	endYear := p.cfg.Fetch.ResolveEndYear(p.deps.Clock.Now())
	candidates := gen.Candidates(p.cfg.Fetch.StartYear, endYear)
	log.Info("candidates generated",
		zap.Int("count", len(candidates)),
		zap.Int("start_year", p.cfg.Fetch.StartYear),
		zap.Int("end_year", endYear))

	stage := acquire.New(
		p.deps.Fetcher,
		ratelimit.New(ratelimit.Config{RequestsPerSecond: p.cfg.Fetch.RequestsPerSecond, Burst: p.cfg.Fetch.Burst}),
		retry.NewExponentialPolicy(p.cfg.Fetch.MaxAttempts, p.cfg.Fetch.BackoffInitial, p.cfg.Fetch.BackoffMax),
		p.deps.Store,
		p.deps.Hasher,
		p.deps.Clock,
		acquire.Config{
			RawPrefix:  p.cfg.Storage.RawPrefix,
			Workers:    p.cfg.Fetch.Concurrency,
			QueueDepth: p.cfg.Fetch.QueueDepth,
		},
		log,
	)
	result, runErr := stage.Run(ctx, candidates)

	// partial results are kept so an interrupted run can be inspected
	if err := p.saveState(context.WithoutCancel(ctx), StateCovers, result); err != nil {
		return result, err
	}
	for _, rec := range result.Records {
		p.catalog(ctx, "cover", rec.Key.String(), func(ctx context.Context, c cover.Catalog) error {
			return c.UpsertCover(ctx, rec)
		})
	}
	p.summary.Covers = len(result.Records)
	p.record(cover.StageFetch, len(candidates), len(result.Records), result.Skipped, nil, time.Since(start))
	return result, runErr
}

// Enrich looks up metadata for every fetched issue month and writes
// metadata.json. Missing metadata never fails the stage.
func (p *Pipeline) Enrich(ctx context.Context) (metadata.Result, error) {
	start := time.Now()
	log := p.logger.Named(cover.StageEnrich)

	var covers acquire.Result
	if err := p.loadState(ctx, StateCovers, &covers); err != nil {
		return metadata.Result{}, err
	}
	dates := make([]cover.IssueDate, 0, len(covers.Records))
	for _, rec := range covers.Records {
		dates = append(dates, rec.Key.Date)
	}

	var (
		result metadata.Result
		runErr error
	)
	if p.cfg.Metadata.Enabled {
		sources, err := p.metadataSources(log)
		if err != nil {
			return metadata.Result{}, err
		}
		result, runErr = metadata.NewEnricher(log, sources...).Run(ctx, dates)
	} else {
		log.Info("metadata disabled, overlays will carry dates only")
	}
	if result.Records == nil {
		result.Records = map[cover.IssueDate]cover.MetadataRecord{}
	}

	if err := p.saveState(context.WithoutCancel(ctx), StateMetadata, result); err != nil {
		return result, err
	}
	for _, rec := range result.Records {
		p.catalog(ctx, "metadata", rec.Date.String(), func(ctx context.Context, c cover.Catalog) error {
			return c.UpsertMetadata(ctx, rec)
		})
	}
	p.record(cover.StageEnrich, len(dates), len(result.Records), result.Skipped, nil, time.Since(start))
	return result, runErr
}

// metadataSources builds the lookup chain: the offline CSV first, then the
// search site.
func (p *Pipeline) metadataSources(log *zap.Logger) ([]metadata.Source, error) {
	var sources []metadata.Source
	if path := p.cfg.Metadata.CSVPath; path != "" {
		csvSource, err := metadata.OpenCSV(path)
		if err != nil {
			return nil, fmt.Errorf("open metadata csv: %w", err)
		}
		log.Info("metadata csv loaded", zap.String("path", path), zap.Int("records", csvSource.Len()))
		sources = append(sources, csvSource)
	}
	if searchURL := p.cfg.Metadata.SearchURL; searchURL != "" {
		search := metadata.NewSearchSource(
			p.deps.MetadataFetcher,
			ratelimit.New(ratelimit.Config{RequestsPerSecond: p.cfg.Metadata.RequestsPerSecond, Burst: 1}),
			retry.NewExponentialPolicy(p.cfg.Metadata.MaxAttempts, p.cfg.Fetch.BackoffInitial, p.cfg.Fetch.BackoffMax),
			robots.New(p.cfg.Metadata.RespectRobots, p.cfg.Fetch.UserAgent, log),
			metadata.SearchConfig{URL: searchURL, UserAgent: p.cfg.Fetch.UserAgent},
			log,
		)
		if p.deps.Headless != nil {
			search.WithHeadless(p.deps.Headless, detector.NewHeuristic(0, "tr td"))
		}
		sources = append(sources, search)
	}
	return sources, nil
}

// Normalize fits every fetched cover to the lock-screen target and writes
// normalized.json.
func (p *Pipeline) Normalize(ctx context.Context) (normalize.Result, error) {
	start := time.Now()
	log := p.logger.Named(cover.StageNormalize)

	var covers acquire.Result
	if err := p.loadState(ctx, StateCovers, &covers); err != nil {
		return normalize.Result{}, err
	}
	normalizer, err := p.newNormalizer()
	if err != nil {
		return normalize.Result{}, err
	}
	stage := normalize.NewStage(normalizer, p.deps.Store, normalize.StageConfig{
		Prefix:     p.cfg.Storage.NormalPrefix,
		Workers:    p.cfg.Normalize.Concurrency,
		QueueDepth: p.cfg.Fetch.QueueDepth,
	}, log)
	result, runErr := stage.Run(ctx, covers.Records)

	if err := p.saveState(context.WithoutCancel(ctx), StateNormalized, result); err != nil {
		return result, err
	}
	p.record(cover.StageNormalize, len(covers.Records), len(result.Images), result.Skipped, result.Flagged, time.Since(start))
	return result, runErr
}

// Overlay draws the metadata block on every normalized image and writes
// overlayed.json. Without metadata.json every cover gets its date only.
func (p *Pipeline) Overlay(ctx context.Context) (overlay.Result, error) {
	start := time.Now()
	log := p.logger.Named(cover.StageOverlay)

	var normalized normalize.Result
	if err := p.loadState(ctx, StateNormalized, &normalized); err != nil {
		return overlay.Result{}, err
	}
	var meta metadata.Result
	if err := p.loadState(ctx, StateMetadata, &meta); err != nil {
		if !errors.Is(err, ErrMissingState) {
			return overlay.Result{}, err
		}
		log.Warn("no metadata state, overlays will carry dates only")
	}

	renderer, err := p.newRenderer()
	if err != nil {
		return overlay.Result{}, err
	}
	stage := overlay.NewStage(renderer, p.encoder(), p.deps.Store, overlay.StageConfig{
		Prefix:     p.cfg.Storage.OverlayPrefix,
		Workers:    p.cfg.Normalize.Concurrency,
		QueueDepth: p.cfg.Fetch.QueueDepth,
		Content:    p.content(),
	}, log)
	result, runErr := stage.Run(ctx, normalized.Images, meta.Records)

	if err := p.saveState(context.WithoutCancel(ctx), StateOverlayed, result); err != nil {
		return result, err
	}
	p.record(cover.StageOverlay, len(normalized.Images), len(result.Images), result.Skipped, result.Flagged, time.Since(start))
	return result, runErr
}

// Manifest verifies overlayed images, writes every manifest view, mirrors
// the published files and sends the completion notification.
func (p *Pipeline) Manifest(ctx context.Context) (manifest.Manifest, error) {
	start := time.Now()
	log := p.logger.Named(cover.StageManifest)

	var overlayed overlay.Result
	if err := p.loadState(ctx, StateOverlayed, &overlayed); err != nil {
		return manifest.Manifest{}, err
	}
	var covers acquire.Result
	if err := p.loadState(ctx, StateCovers, &covers); err != nil {
		if !errors.Is(err, ErrMissingState) {
			return manifest.Manifest{}, err
		}
		log.Warn("no covers state, entries are not cross-checked")
	}
	var meta metadata.Result
	if err := p.loadState(ctx, StateMetadata, &meta); err != nil && !errors.Is(err, ErrMissingState) {
		return manifest.Manifest{}, err
	}

	builder := manifest.NewBuilder(p.deps.Store, manifest.Config{
		BaseURL:        p.cfg.Publish.BaseURL,
		Width:          p.cfg.Normalize.Width,
		Height:         p.cfg.Normalize.Height,
		MaxBytes:       p.cfg.Normalize.MaxBytes,
		SampleSize:     p.cfg.Manifest.SampleSize,
		SampleSeed:     p.cfg.Manifest.SampleSeed,
		IncludeFlagged: p.cfg.Manifest.IncludeFlagged,
	}, log)
	m, err := builder.Build(ctx, manifest.Input{Covers: covers.Records, Metadata: meta.Records, Images: overlayed.Images})
	if err != nil {
		p.record(cover.StageManifest, len(overlayed.Images), 0, m.Skipped, nil, time.Since(start))
		return m, err
	}

	writer := manifest.NewWriter(p.deps.Store, p.deps.Mirror, p.cfg.Manifest.Prefix, log)
	// images go first so a mirrored manifest never points at a missing file
	if _, err := writer.MirrorImages(ctx, p.deps.Store, m.Paths()); err != nil {
		return m, fmt.Errorf("mirror images: %w", err)
	}
	docs, err := writer.Write(ctx, manifest.Views(m.Entries, p.cfg.Manifest.SampleSize, p.cfg.Manifest.SampleSeed))
	if err != nil {
		return m, fmt.Errorf("write manifests: %w", err)
	}

	p.summary.Published = len(m.Entries)
	p.summary.Documents = docs
	p.notify(ctx, len(m.Entries), docs)
	p.record(cover.StageManifest, len(overlayed.Images), len(m.Entries), m.Skipped, nil, time.Since(start))
	return m, nil
}

func (p *Pipeline) notify(ctx context.Context, entries int, docs map[string]string) {
	if p.deps.Publisher == nil || p.cfg.Notify.Topic == "" {
		return
	}
	msg := Notification{
		RunID:       p.summary.RunID,
		Entries:     entries,
		BaseURL:     p.cfg.Publish.BaseURL,
		Documents:   docs,
		PublishedAt: p.deps.Clock.Now().UTC(),
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Notify.Topic, msg)
	if err != nil {
		p.logger.Warn("publish notification failed", zap.String("topic", p.cfg.Notify.Topic), zap.Error(err))
		return
	}
	p.logger.Info("notification published", zap.String("topic", p.cfg.Notify.Topic), zap.String("message_id", id))
}

// catalog applies fn when a catalog is configured. Failures are logged;
// the catalog is an index, not the source of truth.
func (p *Pipeline) catalog(ctx context.Context, kind, key string, fn func(context.Context, cover.Catalog) error) {
	if p.deps.Catalog == nil {
		return
	}
	if err := fn(ctx, p.deps.Catalog); err != nil {
		p.logger.Warn("catalog upsert failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	}
}

func (p *Pipeline) encoder() normalize.Encoder {
	return normalize.Encoder{
		MaxBytes:     p.cfg.Normalize.MaxBytes,
		StartQuality: p.cfg.Normalize.StartQuality,
		QualityStep:  p.cfg.Normalize.QualityStep,
		MinQuality:   p.cfg.Normalize.MinQuality,
	}
}

func (p *Pipeline) newNormalizer() (*normalize.Normalizer, error) {
	bg, err := normalize.ParseHexColor(p.cfg.Normalize.Background)
	if err != nil {
		return nil, fmt.Errorf("normalize.background: %w", err)
	}
	n, err := normalize.New(normalize.Config{
		Width:      p.cfg.Normalize.Width,
		Height:     p.cfg.Normalize.Height,
		Fit:        p.cfg.Normalize.Fit,
		Background: bg,
		Encoder:    p.encoder(),
	})
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}
	return n, nil
}

func (p *Pipeline) newRenderer() (*overlay.Renderer, error) {
	oc := p.cfg.Overlay
	text, err := normalize.ParseHexColor(oc.TextColor)
	if err != nil {
		return nil, fmt.Errorf("overlay.text_color: %w", err)
	}
	outline, err := normalize.ParseHexColor(oc.OutlineColor)
	if err != nil {
		return nil, fmt.Errorf("overlay.outline_color: %w", err)
	}
	r, err := overlay.NewRenderer(overlay.Layout{
		TextX:        oc.TextX,
		TextYCenter:  oc.TextYCenter,
		LineSpacing:  oc.LineSpacing,
		LargeSize:    float64(oc.LargeSize),
		MediumSize:   float64(oc.MediumSize),
		TextColor:    text,
		OutlineColor: outline,
		OutlineWidth: oc.OutlineWidth,
	}, overlay.Fonts{LargePath: oc.LargeFont, MediumPath: oc.MediumFont})
	if err != nil {
		return nil, fmt.Errorf("build overlay renderer: %w", err)
	}
	return r, nil
}

func (p *Pipeline) content() overlay.Content {
	oc := p.cfg.Overlay
	return overlay.Content{
		ShowDate:          oc.ShowDate,
		ShowSkater:        oc.ShowSkater,
		ShowTrick:         oc.ShowTrick,
		ShowObstacle:      oc.ShowObstacle,
		ShowLocation:      oc.ShowLocation,
		JoinTrickLocation: oc.JoinTrickLocation,
		MaxSkaters:        oc.MaxSkaters,
	}
}

func eraTable(cfgs []config.EraConfig) []eras.Era {
	if len(cfgs) == 0 {
		return nil
	}
	out := make([]eras.Era, len(cfgs))
	for i, c := range cfgs {
		out[i] = eras.Era{Name: c.Name, From: c.From, To: c.To, Patterns: c.Patterns}
	}
	return out
}
