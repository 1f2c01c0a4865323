package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/dispatcher"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
)

// Skip and flag reasons recorded by the normalize and overlay stages.
const (
	ReasonCorruptImage = "corrupt_image"
	ReasonReadFailed   = "read_failed"
	ReasonStoreFailed  = "store_failed"
	ReasonEncodeFailed = "encode_failed"
	ReasonSizeCeiling  = "size_ceiling"
	ReasonCanceled     = "canceled"
)

// Blobs reads inputs and writes outputs.
type Blobs interface {
	cover.BlobStore
	cover.BlobReader
}

// StageConfig controls where outputs go and how many run at once.
type StageConfig struct {
	Prefix     string
	Workers    int
	QueueDepth int
}

// Result is the output of one normalize run.
type Result struct {
	Images  []cover.NormalizedImage `json:"images"`
	Skipped []cover.SkipRecord      `json:"skipped"`
	Flagged []cover.FlagRecord      `json:"flagged"`
}

// Stage normalizes every fetched cover.
type Stage struct {
	normalizer *Normalizer
	blobs      Blobs
	cfg        StageConfig
	logger     *zap.Logger
}

// NewStage builds the normalize stage.
func NewStage(normalizer *Normalizer, blobs Blobs, cfg StageConfig, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "images/normalized"
	}
	return &Stage{normalizer: normalizer, blobs: blobs, cfg: cfg, logger: logger}
}

type outcome struct {
	done  bool
	image cover.NormalizedImage
	skip  *cover.SkipRecord
}

// OutputPath is where the normalized image for key is stored.
func (s *Stage) OutputPath(key cover.CoverKey) string {
	return path.Join(s.cfg.Prefix, key.String()+".jpg")
}

// Run normalizes records concurrently. Per-image failures become skips.
func (s *Stage) Run(ctx context.Context, records []cover.CoverRecord) (Result, error) {
	outcomes, err := dispatcher.Map(ctx, dispatcher.Config{Workers: s.cfg.Workers, QueueDepth: s.cfg.QueueDepth}, s.logger, records,
		func(ctx context.Context, rec cover.CoverRecord) outcome {
			return s.normalizeOne(ctx, rec)
		})

	var result Result
	for i, out := range outcomes {
		switch {
		case !out.done:
			result.Skipped = append(result.Skipped, cover.SkipRecord{
				Stage: cover.StageNormalize, Key: records[i].Key.String(), Reason: ReasonCanceled,
			})
		case out.skip != nil:
			result.Skipped = append(result.Skipped, *out.skip)
		default:
			result.Images = append(result.Images, out.image)
			if out.image.Flagged {
				result.Flagged = append(result.Flagged, cover.FlagRecord{
					Stage:  cover.StageNormalize,
					Key:    out.image.Key.String(),
					Reason: ReasonSizeCeiling,
					Detail: fmt.Sprintf("%d bytes at quality %d", out.image.Bytes, out.image.Quality),
				})
			}
		}
	}
	s.logger.Info("normalize stage finished",
		zap.Int("covers", len(records)),
		zap.Int("normalized", len(result.Images)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("flagged", len(result.Flagged)))
	if err != nil {
		return result, fmt.Errorf("normalize stage interrupted: %w", err)
	}
	return result, nil
}

func (s *Stage) normalizeOne(ctx context.Context, rec cover.CoverRecord) outcome {
	key := rec.Key.String()
	log := s.logger.With(zap.String("key", key))
	skip := func(reason string, err error) outcome {
		metrics.ObserveStageItem(cover.StageNormalize, metrics.ResultSkipped)
		return outcome{done: true, skip: &cover.SkipRecord{
			Stage: cover.StageNormalize, Key: key, URL: rec.SourceURL, Reason: reason, Detail: err.Error(),
		}}
	}

	raw, err := s.blobs.GetObject(ctx, rec.LocalImagePath)
	if err != nil {
		log.Error("read raw image failed", zap.String("path", rec.LocalImagePath), zap.Error(err))
		return skip(ReasonReadFailed, err)
	}
	out, err := s.normalizer.Normalize(raw)
	if err != nil {
		if errors.Is(err, cover.ErrCorruptImage) {
			log.Warn("corrupt image skipped", zap.String("source_url", rec.SourceURL), zap.Error(err))
			return skip(ReasonCorruptImage, err)
		}
		log.Error("normalize failed", zap.Error(err))
		return skip(ReasonEncodeFailed, err)
	}

	outPath := s.OutputPath(rec.Key)
	if _, err := s.blobs.PutObject(ctx, outPath, "image/jpeg", bytes.NewReader(out.Data)); err != nil {
		log.Error("store normalized image failed", zap.String("path", outPath), zap.Error(err))
		return skip(ReasonStoreFailed, err)
	}

	metrics.ObserveQuality(cover.StageNormalize, out.Quality)
	if out.Flagged {
		metrics.ObserveStageItem(cover.StageNormalize, metrics.ResultFlagged)
		log.Warn("size ceiling missed at quality floor", zap.Int("bytes", len(out.Data)), zap.Int("quality", out.Quality))
	} else {
		metrics.ObserveStageItem(cover.StageNormalize, metrics.ResultOK)
	}
	return outcome{done: true, image: cover.NormalizedImage{
		Key:     rec.Key,
		Path:    outPath,
		Width:   out.Width,
		Height:  out.Height,
		Bytes:   len(out.Data),
		Quality: out.Quality,
		Flagged: out.Flagged,
	}}
}
