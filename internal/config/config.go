// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Eras      []EraConfig     `mapstructure:"eras"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StorageConfig sets the local working tree.
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	StateDir      string `mapstructure:"state_dir"`
	RawPrefix     string `mapstructure:"raw_prefix"`
	NormalPrefix  string `mapstructure:"normalized_prefix"`
	OverlayPrefix string `mapstructure:"overlay_prefix"`
}

// FetchConfig governs cover acquisition.
type FetchConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	StartYear         int           `mapstructure:"start_year"`
	EndYear           int           `mapstructure:"end_year"`
	UserAgent         string        `mapstructure:"user_agent"`
	Concurrency       int           `mapstructure:"concurrency"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
}

// EraConfig overrides the built-in URL templates for a year range.
type EraConfig struct {
	Name     string   `mapstructure:"name"`
	From     int      `mapstructure:"from"`
	To       int      `mapstructure:"to"`
	Patterns []string `mapstructure:"patterns"`
}

// MetadataConfig governs the metadata enricher.
type MetadataConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SearchURL         string        `mapstructure:"search_url"`
	CSVPath           string        `mapstructure:"csv_path"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RenderHeadless    bool          `mapstructure:"render_headless"`
	HeadlessTimeout   time.Duration `mapstructure:"headless_timeout"`
}

// NormalizeConfig sets the lock-screen target.
type NormalizeConfig struct {
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	Fit          string `mapstructure:"fit"`
	Background   string `mapstructure:"background"`
	MaxBytes     int    `mapstructure:"max_bytes"`
	StartQuality int    `mapstructure:"start_quality"`
	QualityStep  int    `mapstructure:"quality_step"`
	MinQuality   int    `mapstructure:"min_quality"`
	Concurrency  int    `mapstructure:"concurrency"`
}

// OverlayConfig is the local layout configuration for text overlays.
type OverlayConfig struct {
	TextX             int    `mapstructure:"text_x"`
	TextYCenter       int    `mapstructure:"text_y_center"`
	LineSpacing       int    `mapstructure:"line_spacing"`
	LargeSize         int    `mapstructure:"large_size"`
	MediumSize        int    `mapstructure:"medium_size"`
	LargeFont         string `mapstructure:"large_font"`
	MediumFont        string `mapstructure:"medium_font"`
	TextColor         string `mapstructure:"text_color"`
	OutlineColor      string `mapstructure:"outline_color"`
	OutlineWidth      int    `mapstructure:"outline_width"`
	JoinTrickLocation bool   `mapstructure:"join_trick_location"`
	MaxSkaters        int    `mapstructure:"max_skaters"`
	ShowDate          bool   `mapstructure:"show_date"`
	ShowSkater        bool   `mapstructure:"show_skater"`
	ShowTrick         bool   `mapstructure:"show_trick"`
	ShowObstacle      bool   `mapstructure:"show_obstacle"`
	ShowLocation      bool   `mapstructure:"show_location"`
}

// ManifestConfig controls manifest views.
type ManifestConfig struct {
	Prefix         string `mapstructure:"prefix"`
	SampleSize     int    `mapstructure:"sample_size"`
	SampleSeed     int64  `mapstructure:"sample_seed"`
	IncludeFlagged bool   `mapstructure:"include_flagged"`
}

// PublishConfig describes where published files are reachable.
type PublishConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// CatalogConfig controls the optional Postgres catalog.
type CatalogConfig struct {
	DSN           string `mapstructure:"dsn"`
	CoversTable   string `mapstructure:"covers_table"`
	MetadataTable string `mapstructure:"metadata_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOCKCOVERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)

	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.state_dir", "data/state")
	v.SetDefault("storage.raw_prefix", "images/raw")
	v.SetDefault("storage.normalized_prefix", "images/normalized")
	v.SetDefault("storage.overlay_prefix", "images/with_text")

	v.SetDefault("fetch.base_url", "https://api.thrashermagazine.com")
	v.SetDefault("fetch.start_year", 1981)
	v.SetDefault("fetch.end_year", 0)
	v.SetDefault("fetch.user_agent", "lockscreen-covers/1.0 (+https://github.com/JakeFAU/lockscreen-covers)")
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.queue_depth", 64)
	v.SetDefault("fetch.request_timeout", "10s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial", "250ms")
	v.SetDefault("fetch.backoff_max", "5s")
	v.SetDefault("fetch.requests_per_second", 10)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.max_body_bytes", 20*1024*1024)

	v.SetDefault("metadata.enabled", true)
	v.SetDefault("metadata.search_url", "http://4plymag.com/thrashersearch/")
	v.SetDefault("metadata.csv_path", "")
	v.SetDefault("metadata.request_timeout", "10s")
	v.SetDefault("metadata.requests_per_second", 1)
	v.SetDefault("metadata.max_attempts", 2)
	v.SetDefault("metadata.respect_robots", true)
	v.SetDefault("metadata.render_headless", false)
	v.SetDefault("metadata.headless_timeout", "30s")

	v.SetDefault("normalize.width", 1080)
	v.SetDefault("normalize.height", 1920)
	v.SetDefault("normalize.fit", "letterbox")
	v.SetDefault("normalize.background", "#000000")
	v.SetDefault("normalize.max_bytes", 500*1024)
	v.SetDefault("normalize.start_quality", 85)
	v.SetDefault("normalize.quality_step", 5)
	v.SetDefault("normalize.min_quality", 65)
	v.SetDefault("normalize.concurrency", 4)

	v.SetDefault("overlay.text_x", 540)
	v.SetDefault("overlay.text_y_center", 1765)
	v.SetDefault("overlay.line_spacing", 40)
	v.SetDefault("overlay.large_size", 56)
	v.SetDefault("overlay.medium_size", 48)
	v.SetDefault("overlay.text_color", "#FFFFFF")
	v.SetDefault("overlay.outline_color", "#000000")
	v.SetDefault("overlay.outline_width", 3)
	v.SetDefault("overlay.join_trick_location", true)
	v.SetDefault("overlay.max_skaters", 2)
	v.SetDefault("overlay.show_date", true)
	v.SetDefault("overlay.show_skater", true)
	v.SetDefault("overlay.show_trick", true)
	v.SetDefault("overlay.show_obstacle", false)
	v.SetDefault("overlay.show_location", true)

	v.SetDefault("manifest.prefix", "manifests")
	v.SetDefault("manifest.sample_size", 50)
	v.SetDefault("manifest.sample_seed", 1)
	v.SetDefault("manifest.include_flagged", false)

	v.SetDefault("publish.base_url", "https://raw.githubusercontent.com/JakeFAU/lockscreen-covers/main/data")

	v.SetDefault("catalog.covers_table", "covers")
	v.SetDefault("catalog.metadata_table", "cover_metadata")
	v.SetDefault("catalog.max_conns", 4)

	v.SetDefault("metrics.job", "lockscreen_covers")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.BaseDir) == "" {
		return fmt.Errorf("storage.base_dir must be set")
	}
	if strings.TrimSpace(c.Storage.StateDir) == "" {
		return fmt.Errorf("storage.state_dir must be set")
	}
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url must be set")
	}
	if c.Fetch.StartYear <= 0 {
		return fmt.Errorf("fetch.start_year must be > 0")
	}
	if c.Fetch.EndYear != 0 && c.Fetch.EndYear < c.Fetch.StartYear {
		return fmt.Errorf("fetch.end_year must be >= fetch.start_year")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	for i, era := range c.Eras {
		if era.From <= 0 || era.To < era.From {
			return fmt.Errorf("eras[%d]: invalid year range %d-%d", i, era.From, era.To)
		}
		if len(era.Patterns) == 0 {
			return fmt.Errorf("eras[%d]: at least one pattern is required", i)
		}
	}
	if c.Metadata.Enabled && c.Metadata.SearchURL == "" && c.Metadata.CSVPath == "" {
		return fmt.Errorf("metadata.search_url or metadata.csv_path must be set when metadata is enabled")
	}
	if c.Metadata.RequestsPerSecond < 0 {
		return fmt.Errorf("metadata.requests_per_second must be >= 0")
	}
	if c.Normalize.Width <= 0 || c.Normalize.Height <= 0 {
		return fmt.Errorf("normalize.width and normalize.height must be > 0")
	}
	switch c.Normalize.Fit {
	case "letterbox", "crop":
	default:
		return fmt.Errorf("normalize.fit must be letterbox or crop, got %q", c.Normalize.Fit)
	}
	if c.Normalize.MaxBytes <= 0 {
		return fmt.Errorf("normalize.max_bytes must be > 0")
	}
	if c.Normalize.MinQuality < 1 || c.Normalize.StartQuality > 100 || c.Normalize.MinQuality > c.Normalize.StartQuality {
		return fmt.Errorf("normalize quality range must satisfy 1 <= min_quality <= start_quality <= 100")
	}
	if c.Normalize.QualityStep <= 0 {
		return fmt.Errorf("normalize.quality_step must be > 0")
	}
	if c.Overlay.LargeSize <= 0 || c.Overlay.MediumSize <= 0 {
		return fmt.Errorf("overlay font sizes must be > 0")
	}
	if c.Overlay.LineSpacing < 0 || c.Overlay.OutlineWidth < 0 {
		return fmt.Errorf("overlay.line_spacing and overlay.outline_width must be >= 0")
	}
	if c.Manifest.SampleSize < 0 {
		return fmt.Errorf("manifest.sample_size must be >= 0")
	}
	if c.Publish.BaseURL == "" {
		return fmt.Errorf("publish.base_url must be set")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// ResolveEndYear returns the configured end year, or the current year when unset.
func (c FetchConfig) ResolveEndYear(now time.Time) int {
	if c.EndYear > 0 {
		return c.EndYear
	}
	return now.Year()
}
