// Package metadata looks up descriptive fields (skaters, tricks, obstacles,
// location) for issue months from offline exports and the search site.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
)

// Skip reasons recorded by the enrich stage.
const (
	ReasonNoMetadata   = "no_metadata"
	ReasonSourceFailed = "source_failed"
)

// Source resolves metadata for one issue month. ok is false when the source
// has nothing for the date.
type Source interface {
	Name() string
	Lookup(ctx context.Context, date cover.IssueDate) (cover.MetadataRecord, bool, error)
}

// Result is the output of one enrich run.
type Result struct {
	Records map[cover.IssueDate]cover.MetadataRecord `json:"records"`
	Skipped []cover.SkipRecord                       `json:"skipped"`
}

// Enricher chains sources; the first non-empty hit wins.
type Enricher struct {
	sources []Source
	logger  *zap.Logger
}

// NewEnricher builds an Enricher over sources in priority order.
func NewEnricher(logger *zap.Logger, sources ...Source) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{sources: sources, logger: logger}
}

// Lookup consults each source in order. Source failures are logged and the
// next source is tried; the returned error is ErrNoMetadata joined with any
// source failures when nothing was found.
func (e *Enricher) Lookup(ctx context.Context, date cover.IssueDate) (cover.MetadataRecord, error) {
	var failures []error
	for _, src := range e.sources {
		rec, ok, err := src.Lookup(ctx, date)
		if err != nil {
			if ctx.Err() != nil {
				return cover.MetadataRecord{}, ctx.Err()
			}
			e.logger.Warn("metadata source failed",
				zap.String("source", src.Name()),
				zap.String("date", date.String()),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if !ok || rec.Empty() {
			continue
		}
		rec.Date = date
		if rec.Source == "" {
			rec.Source = src.Name()
		}
		return rec, nil
	}
	return cover.MetadataRecord{}, errors.Join(append([]error{fmt.Errorf("%w for %s", cover.ErrNoMetadata, date)}, failures...)...)
}

// Run enriches every distinct date. Missing metadata is recorded as a skip and
// never stops the run; only cancellation returns an error.
func (e *Enricher) Run(ctx context.Context, dates []cover.IssueDate) (Result, error) {
	unique := uniqueDates(dates)
	result := Result{Records: make(map[cover.IssueDate]cover.MetadataRecord, len(unique))}
	for _, date := range unique {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("enrich stage interrupted: %w", err)
		}
		rec, err := e.Lookup(ctx, date)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("enrich stage interrupted: %w", ctx.Err())
			}
			reason := ReasonNoMetadata
			if unwrapsToSourceFailure(err) {
				reason = ReasonSourceFailed
			}
			metrics.ObserveStageItem(cover.StageEnrich, metrics.ResultSkipped)
			result.Skipped = append(result.Skipped, cover.SkipRecord{
				Stage:  cover.StageEnrich,
				Key:    date.String(),
				Reason: reason,
				Detail: err.Error(),
			})
			continue
		}
		metrics.ObserveStageItem(cover.StageEnrich, metrics.ResultOK)
		result.Records[date] = rec
	}
	e.logger.Info("enrich stage finished",
		zap.Int("dates", len(unique)),
		zap.Int("enriched", len(result.Records)),
		zap.Int("without_metadata", len(result.Skipped)))
	return result, nil
}

// unwrapsToSourceFailure reports whether err carries more than the bare
// no-metadata sentinel.
func unwrapsToSourceFailure(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	return ok && len(joined.Unwrap()) > 1
}

func uniqueDates(dates []cover.IssueDate) []cover.IssueDate {
	seen := make(map[cover.IssueDate]struct{}, len(dates))
	out := make([]cover.IssueDate, 0, len(dates))
	for _, d := range dates {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
