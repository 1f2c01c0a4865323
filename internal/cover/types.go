// Package cover defines the value types and collaborator interfaces shared by
// every stage of the cover pipeline.
package cover

import (
	"fmt"
	"net/http"
	"time"
)

// CoverKey uniquely identifies one cover image: the issue month plus an
// edition index used when a month has more than one distinct cover.
type CoverKey struct {
	Date    IssueDate `json:"date"`
	Edition int       `json:"edition,omitempty"`
}

// String renders the key as used for filenames, e.g. "2020-12" or "2020-12_2".
func (k CoverKey) String() string {
	if k.Edition == 0 {
		return k.Date.String()
	}
	return fmt.Sprintf("%s_%d", k.Date.String(), k.Edition+1)
}

// Less orders keys by issue date, then edition.
func (k CoverKey) Less(other CoverKey) bool {
	if k.Date != other.Date {
		return k.Date.Before(other.Date)
	}
	return k.Edition < other.Edition
}

// Candidate is a URL that may hold a cover for the given issue month.
type Candidate struct {
	Seq     int       `json:"seq"`
	Date    IssueDate `json:"date"`
	URL     string    `json:"url"`
	Era     string    `json:"era"`
	Pattern string    `json:"pattern"`
}

// CoverRecord is produced by the fetch stage for every unique retrievable image.
type CoverRecord struct {
	Key            CoverKey  `json:"key"`
	SourceURL      string    `json:"source_url"`
	AltURLs        []string  `json:"alt_urls,omitempty"`
	LocalImagePath string    `json:"local_image_path"`
	ContentHash    string    `json:"content_hash"`
	ContentType    string    `json:"content_type"`
	Bytes          int       `json:"bytes"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// MetadataRecord holds descriptive fields for one issue month. Every field
// other than Date may be empty.
type MetadataRecord struct {
	Date      IssueDate `json:"date"`
	Skaters   []string  `json:"skaters,omitempty"`
	Tricks    []string  `json:"tricks,omitempty"`
	Obstacles []string  `json:"obstacles,omitempty"`
	Location  string    `json:"location,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Empty reports whether the record carries no descriptive data.
func (m MetadataRecord) Empty() bool {
	return len(m.Skaters) == 0 && len(m.Tricks) == 0 && len(m.Obstacles) == 0 && m.Location == ""
}

// NormalizedImage describes an image resized to the lock-screen target.
type NormalizedImage struct {
	Key     CoverKey `json:"key"`
	Path    string   `json:"path"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Bytes   int      `json:"bytes"`
	Quality int      `json:"quality"`
	Flagged bool     `json:"flagged,omitempty"`
}

// OverlayedImage is a normalized image with the text block composited on it.
type OverlayedImage struct {
	Key     CoverKey `json:"key"`
	Path    string   `json:"path"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Bytes   int      `json:"bytes"`
	Quality int      `json:"quality"`
	Flagged bool     `json:"flagged,omitempty"`
	Lines   []string `json:"lines"`
}

// ManifestEntry is the only shape read by the downstream automation client.
type ManifestEntry struct {
	Date     string `json:"date"`
	Edition  int    `json:"edition,omitempty"`
	ImageURL string `json:"image_url"`
	Skater   string `json:"skater,omitempty"`
	Trick    string `json:"trick,omitempty"`
	Obstacle string `json:"obstacle,omitempty"`
	Location string `json:"location,omitempty"`
}

// Stage names used in skip and flag records.
const (
	StageFetch     = "fetch"
	StageEnrich    = "enrich"
	StageNormalize = "normalize"
	StageOverlay   = "overlay"
	StageManifest  = "manifest"
)

// SkipRecord explains why an item was dropped from a stage.
type SkipRecord struct {
	Stage  string `json:"stage"`
	Key    string `json:"key,omitempty"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// FlagRecord marks an output that was emitted but needs operator review.
type FlagRecord struct {
	Stage  string `json:"stage"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// FetchRequest captures everything needed to issue one HTTP request.
type FetchRequest struct {
	URL     string
	Method  string
	Form    map[string]string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// RunRecord summarizes one pipeline run for the catalog.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stages     []string  `json:"stages"`
	Covers     int       `json:"covers"`
	Published  int       `json:"published"`
	Skipped    int       `json:"skipped"`
	Flagged    int       `json:"flagged"`
}
