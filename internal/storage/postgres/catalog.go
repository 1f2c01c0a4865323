// Package postgres provides a Postgres-backed cover catalog.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	CoversTable     string
	MetadataTable   string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Catalog implements cover.Catalog on Postgres.
type Catalog struct {
	pool          execCloser
	coversTable   string
	metadataTable string
	runsTable     string
}

// New connects a pool and builds a Catalog.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	catalog, err := NewWithPool(pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return catalog, nil
}

// NewWithPool constructs a Catalog from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, cfg Config) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	c := &Catalog{
		pool:          pool,
		coversTable:   orDefault(cfg.CoversTable, "covers"),
		metadataTable: orDefault(cfg.MetadataTable, "cover_metadata"),
		runsTable:     orDefault(cfg.RunsTable, "cover_runs"),
	}
	for _, table := range []string{c.coversTable, c.metadataTable, c.runsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return c, nil
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// EnsureSchema creates the catalog tables when they do not exist.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cover_key TEXT PRIMARY KEY,
	issue_date TEXT NOT NULL,
	edition INTEGER NOT NULL,
	source_url TEXT NOT NULL,
	alt_urls TEXT[] NOT NULL DEFAULT '{}',
	image_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	bytes INTEGER NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`, c.coversTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	issue_date TEXT PRIMARY KEY,
	skaters TEXT[] NOT NULL DEFAULT '{}',
	tricks TEXT[] NOT NULL DEFAULT '{}',
	obstacles TEXT[] NOT NULL DEFAULT '{}',
	location TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT ''
)`, c.metadataTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	stages TEXT[] NOT NULL,
	covers INTEGER NOT NULL,
	published INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	flagged INTEGER NOT NULL
)`, c.runsTable),
	}
	for _, stmt := range statements {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertCover inserts or refreshes a cover row keyed by its cover key.
func (c *Catalog) UpsertCover(ctx context.Context, record cover.CoverRecord) error {
	if record.Key.Date.IsZero() {
		return fmt.Errorf("cover key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	cover_key, issue_date, edition, source_url, alt_urls,
	image_path, content_hash, content_type, bytes, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (cover_key) DO UPDATE SET
	source_url = EXCLUDED.source_url,
	alt_urls = EXCLUDED.alt_urls,
	image_path = EXCLUDED.image_path,
	content_hash = EXCLUDED.content_hash,
	content_type = EXCLUDED.content_type,
	bytes = EXCLUDED.bytes,
	fetched_at = EXCLUDED.fetched_at`, c.coversTable)

	args := []any{
		record.Key.String(),
		record.Key.Date.String(),
		record.Key.Edition,
		record.SourceURL,
		nonNil(record.AltURLs),
		record.LocalImagePath,
		record.ContentHash,
		record.ContentType,
		record.Bytes,
		record.FetchedAt,
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert cover: %w", err)
	}
	return nil
}

// UpsertMetadata inserts or refreshes the metadata row for an issue month.
func (c *Catalog) UpsertMetadata(ctx context.Context, record cover.MetadataRecord) error {
	if record.Date.IsZero() {
		return fmt.Errorf("metadata date is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (issue_date, skaters, tricks, obstacles, location, source)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (issue_date) DO UPDATE SET
	skaters = EXCLUDED.skaters,
	tricks = EXCLUDED.tricks,
	obstacles = EXCLUDED.obstacles,
	location = EXCLUDED.location,
	source = EXCLUDED.source`, c.metadataTable)

	args := []any{
		record.Date.String(),
		nonNil(record.Skaters),
		nonNil(record.Tricks),
		nonNil(record.Obstacles),
		record.Location,
		record.Source,
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	return nil
}

// RecordRun inserts a run summary row.
func (c *Catalog) RecordRun(ctx context.Context, run cover.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, finished_at, stages, covers, published, skipped, flagged)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, c.runsTable)

	args := []any{
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		nonNil(run.Stages),
		run.Covers,
		run.Published,
		run.Skipped,
		run.Flagged,
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
