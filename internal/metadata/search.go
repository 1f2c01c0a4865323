package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
	"github.com/JakeFAU/lockscreen-covers/internal/policy/robots"
)

// SearchSourceName labels records produced by the search site.
const SearchSourceName = "4plymag"

// ErrDisallowed means robots.txt forbids querying the search URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Retrier runs fn under a retry policy and reports attempts made.
type Retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error)
}

// Promoter decides whether a fetched page needs a headless render.
type Promoter interface {
	ShouldPromote(resp cover.FetchResponse) bool
}

// SearchConfig configures the search-site source.
type SearchConfig struct {
	URL       string
	Field     string
	UserAgent string
}

// SearchSource queries the search site once per year and serves every month
// of that year from the parsed result set.
type SearchSource struct {
	fetcher  cover.Fetcher
	limiter  cover.RateLimiter
	retrier  Retrier
	robots   robots.Policy
	headless cover.Fetcher
	promoter Promoter
	cfg      SearchConfig
	logger   *zap.Logger

	mu    sync.Mutex
	years map[int]*yearResults
}

type yearResults struct {
	once    sync.Once
	records map[cover.IssueDate]cover.MetadataRecord
	err     error
}

// NewSearchSource builds a SearchSource. limiter and policy may be nil.
func NewSearchSource(
	fetcher cover.Fetcher,
	limiter cover.RateLimiter,
	retrier Retrier,
	policy robots.Policy,
	cfg SearchConfig,
	logger *zap.Logger,
) *SearchSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Field == "" {
		cfg.Field = "search"
	}
	return &SearchSource{
		fetcher: fetcher,
		limiter: limiter,
		retrier: retrier,
		robots:  policy,
		cfg:     cfg,
		logger:  logger,
		years:   make(map[int]*yearResults),
	}
}

// WithHeadless re-fetches pages through renderer whenever promoter says the
// static HTML is not usable.
func (s *SearchSource) WithHeadless(renderer cover.Fetcher, promoter Promoter) *SearchSource {
	s.headless = renderer
	s.promoter = promoter
	return s
}

// Name implements Source.
func (s *SearchSource) Name() string { return SearchSourceName }

// Lookup implements Source. Failures are cached for the year so one bad
// response does not cost twelve requests.
func (s *SearchSource) Lookup(ctx context.Context, date cover.IssueDate) (cover.MetadataRecord, bool, error) {
	s.mu.Lock()
	entry, cached := s.years[date.Year]
	if !cached {
		entry = &yearResults{}
		s.years[date.Year] = entry
	}
	s.mu.Unlock()

	if cached {
		metrics.ObserveMetadataCacheHit()
	}
	entry.once.Do(func() {
		entry.records, entry.err = s.searchYear(ctx, date.Year)
	})
	if entry.err != nil {
		return cover.MetadataRecord{}, false, entry.err
	}
	rec, ok := entry.records[date]
	return rec, ok, nil
}

func (s *SearchSource) searchYear(ctx context.Context, year int) (map[cover.IssueDate]cover.MetadataRecord, error) {
	if s.robots != nil && !s.robots.Allowed(ctx, s.cfg.URL) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, s.cfg.URL)
	}
	request := cover.FetchRequest{
		URL:    s.cfg.URL,
		Method: http.MethodPost,
		Form:   map[string]string{s.cfg.Field: strconv.Itoa(year)},
	}
	if s.cfg.UserAgent != "" {
		request.Headers = http.Header{"User-Agent": []string{s.cfg.UserAgent}}
	}

	resp, err := s.fetch(ctx, s.fetcher, request)
	if err != nil {
		return nil, err
	}
	if s.headless != nil && s.promoter != nil && s.promoter.ShouldPromote(resp) {
		s.logger.Info("rendering search page headless", zap.Int("year", year))
		rendered, err := s.fetch(ctx, s.headless, request)
		if err != nil {
			return nil, fmt.Errorf("headless search %d: %w", year, err)
		}
		resp = rendered
	}

	records, err := ParseResults(resp.Body, SearchSourceName)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("search year parsed", zap.Int("year", year), zap.Int("records", len(records)))
	return records, nil
}

func (s *SearchSource) fetch(ctx context.Context, fetcher cover.Fetcher, request cover.FetchRequest) (cover.FetchResponse, error) {
	var resp cover.FetchResponse
	run := func(ctx context.Context, _ int) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, request.URL); err != nil {
				return err
			}
		}
		start := time.Now()
		r, err := fetcher.Fetch(ctx, request)
		if err != nil {
			metrics.ObserveFetch(request.URL, "error", 0, time.Since(start))
			return fmt.Errorf("search request: %w", err)
		}
		metrics.ObserveFetch(request.URL, strconv.Itoa(r.StatusCode), len(r.Body), time.Since(start))
		if r.StatusCode < 200 || r.StatusCode > 299 {
			return &cover.StatusError{URL: request.URL, StatusCode: r.StatusCode}
		}
		resp = r
		return nil
	}
	if s.retrier == nil {
		return resp, run(ctx, 1)
	}
	_, err := s.retrier.Do(ctx, run)
	return resp, err
}
