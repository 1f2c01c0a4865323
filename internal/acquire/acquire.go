// Package acquire downloads candidate cover URLs, classifies each response,
// stores unique images by content hash and assigns edition indexes.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/dispatcher"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
)

// Skip reasons recorded for candidates that produced no image.
const (
	ReasonNotFound         = "not_found"
	ReasonNotImage         = "not_image"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonHTTPStatus       = "http_status"
	ReasonStoreFailed      = "store_failed"
	ReasonCanceled         = "canceled"
)

// Retrier runs fn under a retry policy and reports attempts made.
type Retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error)
}

// Config controls the fetch stage.
type Config struct {
	RawPrefix  string
	Workers    int
	QueueDepth int
}

// Result is the output of one fetch run.
type Result struct {
	Records []cover.CoverRecord `json:"records"`
	Skipped []cover.SkipRecord  `json:"skipped"`
}

// Stage fetches candidates with bounded concurrency.
type Stage struct {
	fetcher cover.Fetcher
	limiter cover.RateLimiter
	retrier Retrier
	store   cover.BlobStore
	hasher  cover.Hasher
	clock   cover.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Stage. limiter may be nil.
func New(
	fetcher cover.Fetcher,
	limiter cover.RateLimiter,
	retrier Retrier,
	store cover.BlobStore,
	hasher cover.Hasher,
	clock cover.Clock,
	cfg Config,
	logger *zap.Logger,
) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "images/raw"
	}
	return &Stage{
		fetcher: fetcher,
		limiter: limiter,
		retrier: retrier,
		store:   store,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// outcome is the per-candidate result before merging.
type outcome struct {
	candidate   cover.Candidate
	hash        string
	path        string
	contentType string
	bytes       int
	fetchedAt   time.Time
	skip        *cover.SkipRecord
}

// Run fetches every candidate and merges successes into CoverRecords.
// Candidates must be ordered by Seq; edition assignment follows that order.
func (s *Stage) Run(ctx context.Context, candidates []cover.Candidate) (Result, error) {
	outcomes, err := dispatcher.Map(ctx, dispatcher.Config{Workers: s.cfg.Workers, QueueDepth: s.cfg.QueueDepth}, s.logger, candidates,
		func(ctx context.Context, c cover.Candidate) outcome {
			return s.fetchOne(ctx, c)
		})
	result := merge(candidates, outcomes)
	s.logger.Info("fetch stage finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("covers", len(result.Records)),
		zap.Int("skipped", len(result.Skipped)))
	if err != nil {
		return result, fmt.Errorf("fetch stage interrupted: %w", err)
	}
	return result, nil
}

func (s *Stage) fetchOne(ctx context.Context, c cover.Candidate) outcome {
	out := outcome{candidate: c}
	log := s.logger.With(zap.String("date", c.Date.String()), zap.String("url", c.URL))

	var resp cover.FetchResponse
	start := time.Now()
	attempts, err := s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, c.URL); err != nil {
				return err
			}
		}
		r, err := s.fetcher.Fetch(ctx, cover.FetchRequest{URL: c.URL, Method: http.MethodGet})
		if err != nil {
			log.Debug("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("fetch: %w", err)
		}
		if err := Classify(r); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		reason := SkipReason(err)
		metrics.ObserveFetch(c.URL, reason, 0, time.Since(start))
		if reason == ReasonNotFound {
			log.Debug("candidate not found")
		} else {
			log.Warn("candidate skipped", zap.String("reason", reason), zap.Int("attempts", attempts), zap.Error(err))
		}
		out.skip = &cover.SkipRecord{Stage: cover.StageFetch, Key: c.Date.String(), URL: c.URL, Reason: reason, Detail: err.Error()}
		return out
	}
	metrics.ObserveFetch(c.URL, "ok", len(resp.Body), time.Since(start))

	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		out.skip = &cover.SkipRecord{Stage: cover.StageFetch, Key: c.Date.String(), URL: c.URL, Reason: ReasonStoreFailed, Detail: err.Error()}
		return out
	}
	contentType := imageContentType(resp)
	objectPath := path.Join(s.cfg.RawPrefix, hash+extensionFor(contentType))
	if _, err := s.store.PutObject(ctx, objectPath, contentType, bytes.NewReader(resp.Body)); err != nil {
		log.Error("store raw image failed", zap.String("path", objectPath), zap.Error(err))
		out.skip = &cover.SkipRecord{Stage: cover.StageFetch, Key: c.Date.String(), URL: c.URL, Reason: ReasonStoreFailed, Detail: err.Error()}
		return out
	}
	log.Info("cover downloaded", zap.String("hash", hash), zap.Int("bytes", len(resp.Body)))

	out.hash = hash
	out.path = objectPath
	out.contentType = contentType
	out.bytes = len(resp.Body)
	out.fetchedAt = s.clock.Now()
	return out
}

// Classify maps a response to nil (usable image) or a classified error.
func Classify(resp cover.FetchResponse) error {
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", cover.ErrNotFound, resp.URL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &cover.StatusError{URL: resp.URL, StatusCode: resp.StatusCode}
	case len(resp.Body) == 0:
		return fmt.Errorf("%w: empty body from %s", cover.ErrNotImage, resp.URL)
	case !strings.HasPrefix(imageContentType(resp), "image/"):
		return fmt.Errorf("%w: %s served %q", cover.ErrNotImage, resp.URL, resp.ContentType())
	}
	return nil
}

// SkipReason names the skip category for a classified error.
func SkipReason(err error) string {
	var statusErr *cover.StatusError
	switch {
	case errors.Is(err, cover.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, cover.ErrNotImage):
		return ReasonNotImage
	case errors.Is(err, cover.ErrRetriesExhausted):
		return ReasonRetriesExhausted
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.As(err, &statusErr):
		return ReasonHTTPStatus
	default:
		return ReasonRetriesExhausted
	}
}

// imageContentType trusts a declared image/* type, otherwise sniffs the body.
// Servers often label covers application/octet-stream.
func imageContentType(resp cover.FetchResponse) string {
	if mediaType, _, err := mime.ParseMediaType(resp.ContentType()); err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(resp.Body))
	return sniffed
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// merge walks outcomes in candidate order. Identical hashes collapse into one
// record (later URLs become AltURLs); distinct images within one issue month
// get increasing edition indexes.
func merge(candidates []cover.Candidate, outcomes []outcome) Result {
	var result Result
	byHash := make(map[string]int)
	editions := make(map[cover.IssueDate]int)

	for i, out := range outcomes {
		if out.candidate.URL == "" && i < len(candidates) {
			// never processed: ctx ended first
			result.Skipped = append(result.Skipped, cover.SkipRecord{
				Stage:  cover.StageFetch,
				Key:    candidates[i].Date.String(),
				URL:    candidates[i].URL,
				Reason: ReasonCanceled,
			})
			continue
		}
		if out.skip != nil {
			result.Skipped = append(result.Skipped, *out.skip)
			continue
		}
		if idx, dup := byHash[out.hash]; dup {
			rec := &result.Records[idx]
			rec.AltURLs = append(rec.AltURLs, out.candidate.URL)
			continue
		}
		date := out.candidate.Date
		edition := editions[date]
		editions[date] = edition + 1
		byHash[out.hash] = len(result.Records)
		result.Records = append(result.Records, cover.CoverRecord{
			Key:            cover.CoverKey{Date: date, Edition: edition},
			SourceURL:      out.candidate.URL,
			LocalImagePath: out.path,
			ContentHash:    out.hash,
			ContentType:    out.contentType,
			Bytes:          out.bytes,
			FetchedAt:      out.fetchedAt,
		})
	}
	return result
}
