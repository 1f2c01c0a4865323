package cover

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP request and returns the raw response.
// Non-2xx statuses are returned as responses, not errors.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore persists artifacts and returns a URI for them.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// BlobReader loads artifacts previously written to a BlobStore.
type BlobReader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Catalog records covers and metadata in a durable index.
type Catalog interface {
	UpsertCover(ctx context.Context, record CoverRecord) error
	UpsertMetadata(ctx context.Context, record MetadataRecord) error
	RecordRun(ctx context.Context, run RunRecord) error
}

// RateLimiter blocks until a request to rawURL may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces a content digest used for content-addressed storage.
type Hasher interface {
	Hash(data []byte) (string, error)
}
