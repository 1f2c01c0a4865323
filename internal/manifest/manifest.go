// Package manifest joins overlayed covers with their metadata and publishes
// the JSON documents read by the lock-screen automation.
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
)

// Skip reasons recorded by the manifest stage.
const (
	ReasonDuplicateKey  = "duplicate_key"
	ReasonMissingImage  = "missing_image"
	ReasonBadDimensions = "bad_dimensions"
	ReasonOversize      = "oversize"
	ReasonFlagged       = "flagged"
	ReasonUnknownCover  = "unknown_cover"
)

// Config controls entry verification and derived views.
type Config struct {
	BaseURL        string
	Width          int
	Height         int
	MaxBytes       int
	SampleSize     int
	SampleSeed     int64
	IncludeFlagged bool
}

// Input is everything the builder joins. Covers may be nil, in which case
// images are not cross-checked against fetched covers.
type Input struct {
	Covers   []cover.CoverRecord
	Metadata map[cover.IssueDate]cover.MetadataRecord
	Images   []cover.OverlayedImage
}

// Manifest is the verified, ordered entry list plus what was left out.
type Manifest struct {
	Entries   []cover.ManifestEntry  `json:"entries"`
	Skipped   []cover.SkipRecord     `json:"skipped"`
	Published []cover.OverlayedImage `json:"-"`
}

// Paths lists the object paths of published images in entry order.
func (m Manifest) Paths() []string {
	out := make([]string, len(m.Published))
	for i, img := range m.Published {
		out[i] = img.Path
	}
	return out
}

// Builder verifies images and assembles entries.
type Builder struct {
	reader cover.BlobReader
	cfg    Config
	logger *zap.Logger
}

// NewBuilder builds a Builder that verifies images through reader.
func NewBuilder(reader cover.BlobReader, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{reader: reader, cfg: cfg, logger: logger}
}

// Build returns entries sorted by (date, edition) with unique keys. Images
// that fail verification are skipped, never published.
func (b *Builder) Build(ctx context.Context, in Input) (Manifest, error) {
	images := append([]cover.OverlayedImage(nil), in.Images...)
	sort.SliceStable(images, func(i, j int) bool { return images[i].Key.Less(images[j].Key) })

	var known map[cover.CoverKey]struct{}
	if in.Covers != nil {
		known = make(map[cover.CoverKey]struct{}, len(in.Covers))
		for _, c := range in.Covers {
			known[c.Key] = struct{}{}
		}
	}

	var m Manifest
	seen := make(map[cover.CoverKey]struct{}, len(images))
	skip := func(img cover.OverlayedImage, reason, detail string) {
		metrics.ObserveStageItem(cover.StageManifest, metrics.ResultSkipped)
		m.Skipped = append(m.Skipped, cover.SkipRecord{Stage: cover.StageManifest, Key: img.Key.String(), Reason: reason, Detail: detail})
	}

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return m, fmt.Errorf("manifest build interrupted: %w", err)
		}
		if _, dup := seen[img.Key]; dup {
			skip(img, ReasonDuplicateKey, img.Path)
			continue
		}
		seen[img.Key] = struct{}{}
		if known != nil {
			if _, ok := known[img.Key]; !ok {
				skip(img, ReasonUnknownCover, img.Path)
				continue
			}
		}
		if img.Flagged && !b.cfg.IncludeFlagged {
			skip(img, ReasonFlagged, fmt.Sprintf("%d bytes", img.Bytes))
			continue
		}
		if reason, detail := b.verify(ctx, img); reason != "" {
			b.logger.Warn("manifest entry rejected", zap.String("key", img.Key.String()), zap.String("reason", reason), zap.String("detail", detail))
			skip(img, reason, detail)
			continue
		}

		var meta *cover.MetadataRecord
		if rec, ok := in.Metadata[img.Key.Date]; ok {
			meta = &rec
		}
		m.Entries = append(m.Entries, b.entry(img, meta))
		m.Published = append(m.Published, img)
		metrics.ObserveStageItem(cover.StageManifest, metrics.ResultOK)
	}
	return m, nil
}

// verify checks the stored image exists with the target size and ceiling.
func (b *Builder) verify(ctx context.Context, img cover.OverlayedImage) (string, string) {
	data, err := b.reader.GetObject(ctx, img.Path)
	if err != nil {
		return ReasonMissingImage, err.Error()
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ReasonMissingImage, fmt.Sprintf("undecodable: %v", err)
	}
	if b.cfg.Width > 0 && b.cfg.Height > 0 && (cfg.Width != b.cfg.Width || cfg.Height != b.cfg.Height) {
		return ReasonBadDimensions, fmt.Sprintf("%dx%d, want %dx%d", cfg.Width, cfg.Height, b.cfg.Width, b.cfg.Height)
	}
	if b.cfg.MaxBytes > 0 && len(data) > b.cfg.MaxBytes && !img.Flagged {
		return ReasonOversize, fmt.Sprintf("%d bytes, ceiling %d", len(data), b.cfg.MaxBytes)
	}
	return "", ""
}

func (b *Builder) entry(img cover.OverlayedImage, meta *cover.MetadataRecord) cover.ManifestEntry {
	e := cover.ManifestEntry{
		Date:     img.Key.Date.String(),
		Edition:  img.Key.Edition,
		ImageURL: PublicURL(b.cfg.BaseURL, img.Path),
	}
	if meta != nil {
		e.Skater = strings.Join(meta.Skaters, " & ")
		if len(meta.Tricks) > 0 {
			e.Trick = meta.Tricks[0]
		}
		if len(meta.Obstacles) > 0 {
			e.Obstacle = meta.Obstacles[0]
		}
		e.Location = meta.Location
	}
	return e
}

// PublicURL joins the published base URL and an object path.
func PublicURL(baseURL, objectPath string) string {
	if baseURL == "" {
		return objectPath
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(objectPath, "/")
}

// URLs is the plain list of image URLs in entry order.
func URLs(entries []cover.ManifestEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ImageURL
	}
	return out
}

// RandomSample shuffles a copy of entries with a fixed seed and keeps the
// first n. n <= 0 or beyond the list returns every entry shuffled.
func RandomSample(entries []cover.ManifestEntry, n int, seed int64) []cover.ManifestEntry {
	sample := make([]cover.ManifestEntry, len(entries))
	copy(sample, entries)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })
	if n > 0 && n < len(sample) {
		sample = sample[:n]
	}
	return sample
}

// ByYear groups entries under their four-digit year, keeping entry order.
func ByYear(entries []cover.ManifestEntry) map[string][]cover.ManifestEntry {
	out := make(map[string][]cover.ManifestEntry)
	for _, e := range entries {
		year := e.Date
		if len(year) >= 4 {
			year = year[:4]
		}
		if _, err := strconv.Atoi(year); err != nil {
			continue
		}
		out[year] = append(out[year], e)
	}
	return out
}
