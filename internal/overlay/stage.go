package overlay

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/dispatcher"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
	"github.com/JakeFAU/lockscreen-covers/internal/normalize"
)

// StageConfig controls the overlay stage.
type StageConfig struct {
	Prefix     string
	Workers    int
	QueueDepth int
	Content    Content
}

// Result is the output of one overlay run.
type Result struct {
	Images  []cover.OverlayedImage `json:"images"`
	Skipped []cover.SkipRecord     `json:"skipped"`
	Flagged []cover.FlagRecord     `json:"flagged"`
}

// Stage renders text onto every normalized image.
type Stage struct {
	renderer *Renderer
	encoder  normalize.Encoder
	blobs    normalize.Blobs
	cfg      StageConfig
	logger   *zap.Logger
}

// NewStage builds the overlay stage. Outputs are re-encoded with encoder so
// they keep the normalizer's byte ceiling.
func NewStage(renderer *Renderer, encoder normalize.Encoder, blobs normalize.Blobs, cfg StageConfig, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "images/with_text"
	}
	return &Stage{renderer: renderer, encoder: encoder, blobs: blobs, cfg: cfg, logger: logger}
}

type outcome struct {
	done  bool
	image cover.OverlayedImage
	skip  *cover.SkipRecord
}

// Run overlays every image. meta may lack entries; those covers get a
// date-only block.
func (s *Stage) Run(ctx context.Context, images []cover.NormalizedImage, meta map[cover.IssueDate]cover.MetadataRecord) (Result, error) {
	outcomes, err := dispatcher.Map(ctx, dispatcher.Config{Workers: s.cfg.Workers, QueueDepth: s.cfg.QueueDepth}, s.logger, images,
		func(ctx context.Context, img cover.NormalizedImage) outcome {
			var m *cover.MetadataRecord
			if rec, ok := meta[img.Key.Date]; ok {
				m = &rec
			}
			return s.overlayOne(ctx, img, m)
		})

	var result Result
	for i, out := range outcomes {
		switch {
		case !out.done:
			result.Skipped = append(result.Skipped, cover.SkipRecord{
				Stage: cover.StageOverlay, Key: images[i].Key.String(), Reason: normalize.ReasonCanceled,
			})
		case out.skip != nil:
			result.Skipped = append(result.Skipped, *out.skip)
		default:
			result.Images = append(result.Images, out.image)
			if out.image.Flagged {
				result.Flagged = append(result.Flagged, cover.FlagRecord{
					Stage:  cover.StageOverlay,
					Key:    out.image.Key.String(),
					Reason: normalize.ReasonSizeCeiling,
					Detail: fmt.Sprintf("%d bytes at quality %d", out.image.Bytes, out.image.Quality),
				})
			}
		}
	}
	s.logger.Info("overlay stage finished",
		zap.Int("images", len(images)),
		zap.Int("overlayed", len(result.Images)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("flagged", len(result.Flagged)))
	if err != nil {
		return result, fmt.Errorf("overlay stage interrupted: %w", err)
	}
	return result, nil
}

// OutputPath is where the overlayed image for key is stored.
func (s *Stage) OutputPath(key cover.CoverKey) string {
	return path.Join(s.cfg.Prefix, key.String()+".jpg")
}

func (s *Stage) overlayOne(ctx context.Context, img cover.NormalizedImage, meta *cover.MetadataRecord) outcome {
	key := img.Key.String()
	log := s.logger.With(zap.String("key", key))
	skip := func(reason string, err error) outcome {
		metrics.ObserveStageItem(cover.StageOverlay, metrics.ResultSkipped)
		return outcome{done: true, skip: &cover.SkipRecord{Stage: cover.StageOverlay, Key: key, Reason: reason, Detail: err.Error()}}
	}

	raw, err := s.blobs.GetObject(ctx, img.Path)
	if err != nil {
		log.Error("read normalized image failed", zap.String("path", img.Path), zap.Error(err))
		return skip(normalize.ReasonReadFailed, err)
	}
	src, err := normalize.Decode(raw)
	if err != nil {
		log.Warn("corrupt normalized image", zap.Error(err))
		return skip(normalize.ReasonCorruptImage, err)
	}

	lines := BuildLines(img.Key.Date, meta, s.cfg.Content)
	rendered, _, err := s.renderer.Render(src, lines)
	if err != nil {
		return skip(normalize.ReasonEncodeFailed, err)
	}
	enc, err := s.encoder.Encode(rendered)
	if err != nil {
		return skip(normalize.ReasonEncodeFailed, err)
	}

	outPath := s.OutputPath(img.Key)
	if _, err := s.blobs.PutObject(ctx, outPath, "image/jpeg", bytes.NewReader(enc.Data)); err != nil {
		log.Error("store overlayed image failed", zap.String("path", outPath), zap.Error(err))
		return skip(normalize.ReasonStoreFailed, err)
	}

	metrics.ObserveQuality(cover.StageOverlay, enc.Quality)
	if enc.Flagged {
		metrics.ObserveStageItem(cover.StageOverlay, metrics.ResultFlagged)
		log.Warn("size ceiling missed at quality floor", zap.Int("bytes", len(enc.Data)))
	} else {
		metrics.ObserveStageItem(cover.StageOverlay, metrics.ResultOK)
	}
	log.Debug("overlay rendered", zap.Int("lines", len(lines)))
	b := rendered.Bounds()
	return outcome{done: true, image: cover.OverlayedImage{
		Key:     img.Key,
		Path:    outPath,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Bytes:   len(enc.Data),
		Quality: enc.Quality,
		Flagged: enc.Flagged,
		Lines:   Texts(lines),
	}}
}
