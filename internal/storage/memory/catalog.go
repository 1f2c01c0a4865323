package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// Catalog is an in-memory cover.Catalog keyed like the Postgres tables.
type Catalog struct {
	mu       sync.RWMutex
	covers   map[string]cover.CoverRecord
	metadata map[string]cover.MetadataRecord
	runs     []cover.RunRecord
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		covers:   make(map[string]cover.CoverRecord),
		metadata: make(map[string]cover.MetadataRecord),
	}
}

// UpsertCover stores or replaces the record for its key.
func (c *Catalog) UpsertCover(_ context.Context, record cover.CoverRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.covers[record.Key.String()] = record
	return nil
}

// UpsertMetadata stores or replaces the record for its date.
func (c *Catalog) UpsertMetadata(_ context.Context, record cover.MetadataRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[record.Date.String()] = record
	return nil
}

// RecordRun appends a run summary.
func (c *Catalog) RecordRun(_ context.Context, run cover.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, run)
	return nil
}

// Runs returns the recorded run summaries.
func (c *Catalog) Runs() []cover.RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]cover.RunRecord(nil), c.runs...)
}

// Cover returns the record stored under key.
func (c *Catalog) Cover(key string) (cover.CoverRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.covers[key]
	return record, ok
}

// Metadata returns the record stored for date (YYYY-MM).
func (c *Catalog) Metadata(date string) (cover.MetadataRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.metadata[date]
	return record, ok
}

// Len reports the number of cover rows.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.covers)
}
