// Package config loads and validates job configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/y3shua/honor-the-fallen/internal/photo"
	"github.com/y3shua/honor-the-fallen/internal/pipeline"
	"github.com/y3shua/honor-the-fallen/internal/search"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DateLayout is the format of search.start_date and search.end_date.
const DateLayout = "2006-01-02"

// Ledger backends.
const (
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// legacyEnv maps keys to the unprefixed variables the job has always read.
var legacyEnv = map[string]string{
	"facebook.access_token": "FB_ACCESS_TOKEN",
	"facebook.page_id":      "FB_PAGE_ID",
	"http.use_proxy":        "USE_PROXY",
	"http.proxy_url":        "PROXY_URL",
	"search.mode":           "SEARCH_MODE",
	"image.skip_processing": "SKIP_IMAGE_PROCESSING",
}

// Config captures all job configuration knobs loaded via Viper.
type Config struct {
	Facebook FacebookConfig `mapstructure:"facebook"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Search   SearchConfig   `mapstructure:"search"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Image    ImageConfig    `mapstructure:"image"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// RequireCredentials is false only for commands that never post.
	RequireCredentials bool `mapstructure:"-"`
}

// FacebookConfig holds page credentials.
type FacebookConfig struct {
	AccessToken string `mapstructure:"access_token"`
	PageID      string `mapstructure:"page_id"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UseProxy         bool          `mapstructure:"use_proxy"`
	ProxyURL         string        `mapstructure:"proxy_url"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	HeadlessFallback bool          `mapstructure:"headless_fallback"`
}

// Proxy returns the proxy to use, or "" when proxying is off.
func (h HTTPConfig) Proxy() string {
	if !h.UseProxy {
		return ""
	}
	return h.ProxyURL
}

// HeadlessConfig configures the chromedp fallback.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Settle      time.Duration `mapstructure:"settle"`
}

// SearchConfig controls which dates are queried.
type SearchConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Mode       string        `mapstructure:"mode"`
	Delay      time.Duration `mapstructure:"delay"`
	StartYear  int           `mapstructure:"start_year"`
	RecentDays int           `mapstructure:"recent_days"`
	StartDate  string        `mapstructure:"start_date"`
	EndDate    string        `mapstructure:"end_date"`
	// Timezone decides which calendar day "today" is.
	Timezone string `mapstructure:"timezone"`
}

// Range parses StartDate and EndDate in loc. Empty values yield zero times.
func (s SearchConfig) Range(loc *time.Location) (time.Time, time.Time, error) {
	start, err := parseDate(s.StartDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("search.start_date: %w", err)
	}
	end, err := parseDate(s.EndDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("search.end_date: %w", err)
	}
	return start, end, nil
}

// EnrichConfig controls profile enrichment.
type EnrichConfig struct {
	Workers          int           `mapstructure:"workers"`
	Delay            time.Duration `mapstructure:"delay"`
	HometownEnabled  bool          `mapstructure:"hometown_enabled"`
	CircumstancesMax int           `mapstructure:"circumstances_max"`
	UnitMinLength    int           `mapstructure:"unit_min_length"`
	BucketPrefix     string        `mapstructure:"bucket_prefix"`
	VocabularyFile   string        `mapstructure:"vocabulary_file"`
}

// ImageConfig controls portrait download and normalization.
type ImageConfig struct {
	Policy          string `mapstructure:"policy"`
	Size            int    `mapstructure:"size"`
	Quality         int    `mapstructure:"quality"`
	PreserveQuality int    `mapstructure:"preserve_quality"`
	PadColor        string `mapstructure:"pad_color"`
	SkipProcessing  bool   `mapstructure:"skip_processing"`
	MinBytes        int    `mapstructure:"min_bytes"`
}

// PublishConfig controls the Graph API client and post pacing.
type PublishConfig struct {
	GraphBaseURL      string        `mapstructure:"graph_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UploadInterval    time.Duration `mapstructure:"upload_interval"`
	Delay             time.Duration `mapstructure:"delay"`
	FallbackLink      bool          `mapstructure:"fallback_link"`
	VerifyCredentials bool          `mapstructure:"verify_credentials"`
}

// PipelineConfig selects the run mode.
type PipelineConfig struct {
	Mode            string `mapstructure:"mode"`
	SingleAttempts  int    `mapstructure:"single_attempts"`
	ProbeConnection bool   `mapstructure:"probe_connection"`
}

// LedgerConfig selects where posted identities are kept.
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where normalized photos are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig holds Pub/Sub settings for posted-record events.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type options struct {
	dotEnv             string
	requireCredentials bool
}

// Option customizes Load.
type Option func(*options)

// WithDotEnv loads variables from path instead of ./.env.
func WithDotEnv(path string) Option {
	return func(o *options) { o.dotEnv = path }
}

// WithoutCredentials skips the Facebook credential checks.
func WithoutCredentials() Option {
	return func(o *options) { o.requireCredentials = false }
}

// Load builds a Config from an optional YAML file, a .env file, and the
// environment.
func Load(path string, opts ...Option) (Config, error) {
	o := options{dotEnv: ".env", requireCredentials: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := loadDotEnv(o.dotEnv); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("HONOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "HONOR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

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
	cfg.RequireCredentials = o.requireCredentials

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("facebook.access_token", "")
	v.SetDefault("facebook.page_id", "")

	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.use_proxy", false)
	v.SetDefault("http.proxy_url", "")
	v.SetDefault("http.rate_limit_rps", 1.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("http.headless_fallback", false)

	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.settle", "2s")

	v.SetDefault("search.base_url", search.DefaultBaseURL)
	v.SetDefault("search.mode", string(search.ModeDaily))
	v.SetDefault("search.delay", "1s")
	v.SetDefault("search.start_year", 2003)
	v.SetDefault("search.recent_days", 7)
	v.SetDefault("search.start_date", "")
	v.SetDefault("search.end_date", "")
	v.SetDefault("search.timezone", "Local")

	v.SetDefault("enrich.workers", 4)
	v.SetDefault("enrich.delay", "2s")
	v.SetDefault("enrich.hometown_enabled", true)
	v.SetDefault("enrich.circumstances_max", 280)
	v.SetDefault("enrich.unit_min_length", 8)
	v.SetDefault("enrich.bucket_prefix", "")
	v.SetDefault("enrich.vocabulary_file", "")

	v.SetDefault("image.policy", string(photo.PolicyPreserve))
	v.SetDefault("image.size", 1080)
	v.SetDefault("image.quality", 90)
	v.SetDefault("image.preserve_quality", 95)
	v.SetDefault("image.pad_color", "#1a472a")
	v.SetDefault("image.skip_processing", false)
	v.SetDefault("image.min_bytes", photo.DefaultMinBytes)

	v.SetDefault("publish.graph_base_url", "")
	v.SetDefault("publish.timeout", "60s")
	v.SetDefault("publish.upload_interval", "1s")
	v.SetDefault("publish.delay", "10s")
	v.SetDefault("publish.fallback_link", true)
	v.SetDefault("publish.verify_credentials", true)

	v.SetDefault("pipeline.mode", string(pipeline.ModeSingle))
	v.SetDefault("pipeline.single_attempts", 3)
	v.SetDefault("pipeline.probe_connection", true)

	v.SetDefault("ledger.backend", LedgerFile)
	v.SetDefault("ledger.path", "posted_heroes.json")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "posted_heroes")
	v.SetDefault("ledger.max_conns", 2)

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "hero_images")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "honor_the_fallen")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.RequireCredentials {
		if strings.TrimSpace(c.Facebook.AccessToken) == "" {
			return invalid("facebook.access_token is required")
		}
		if strings.TrimSpace(c.Facebook.PageID) == "" {
			return invalid("facebook.page_id is required")
		}
		if _, err := strconv.ParseUint(c.Facebook.PageID, 10, 64); err != nil {
			return invalid("facebook.page_id must be numeric")
		}
	}
	if c.HTTP.UseProxy && strings.TrimSpace(c.HTTP.ProxyURL) == "" {
		return invalid("http.proxy_url is required when http.use_proxy is set")
	}
	if c.HTTP.Timeout <= 0 {
		return invalid("http.timeout must be > 0")
	}

	mode, err := search.ParseMode(c.Search.Mode)
	if err != nil {
		return invalid("search.mode: %v", err)
	}
	start, end, err := c.Search.Range(time.UTC)
	if err != nil {
		return invalid("%v", err)
	}
	if mode == search.ModeComprehensive {
		if start.IsZero() || end.IsZero() {
			return invalid("search.start_date and search.end_date are required in comprehensive mode")
		}
		if end.Before(start) {
			return invalid("search.end_date precedes search.start_date")
		}
	}
	if _, err := time.LoadLocation(c.Search.Timezone); err != nil {
		return invalid("search.timezone: %v", err)
	}
	if c.Search.StartYear <= 0 {
		return invalid("search.start_year must be > 0")
	}
	if c.Search.StartYear > time.Now().Year() {
		return invalid("search.start_year %d is after the current year", c.Search.StartYear)
	}

	if c.Enrich.Workers <= 0 {
		return invalid("enrich.workers must be > 0")
	}
	if _, err := photo.ParsePolicy(c.Image.Policy); err != nil {
		return invalid("image.policy: %v", err)
	}
	if c.Image.Size <= 0 {
		return invalid("image.size must be > 0")
	}
	if _, err := photo.ParseHexColor(c.Image.PadColor); err != nil {
		return invalid("image.pad_color: %v", err)
	}
	if _, err := pipeline.ParseMode(c.Pipeline.Mode); err != nil {
		return invalid("pipeline.mode: %v", err)
	}

	switch c.Ledger.Backend {
	case LedgerFile:
		if strings.TrimSpace(c.Ledger.Path) == "" {
			return invalid("ledger.path is required for the file backend")
		}
	case LedgerPostgres:
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return invalid("ledger.dsn is required for the postgres backend")
		}
	default:
		return invalid("unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.Dir) == "" {
			return invalid("archive.dir is required for the local archive")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			return invalid("archive.bucket is required for the gcs archive")
		}
	default:
		return invalid("unknown archive.backend %q", c.Archive.Backend)
	}

	if c.Notify.Enabled && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return invalid("notify.project_id and notify.topic are required when notify is enabled")
	}
	return nil
}

// SearchMode returns the validated search mode.
func (c Config) SearchMode() search.Mode {
	return search.Mode(c.Search.Mode)
}

// PipelineMode returns the validated pipeline mode.
func (c Config) PipelineMode() pipeline.Mode {
	return pipeline.Mode(c.Pipeline.Mode)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD: %w", err)
	}
	return t, nil
}
