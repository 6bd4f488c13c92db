package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3shua/honor-the-fallen/internal/pipeline"
	"github.com/y3shua/honor-the-fallen/internal/search"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("FB_ACCESS_TOKEN", "token-123")
	t.Setenv("FB_PAGE_ID", "1234567890")
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load("", WithDotEnv(""))
	require.NoError(t, err)

	assert.Equal(t, "token-123", cfg.Facebook.AccessToken)
	assert.Equal(t, "1234567890", cfg.Facebook.PageID)
	assert.True(t, cfg.RequireCredentials)

	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "", cfg.HTTP.Proxy())
	assert.Equal(t, search.DefaultBaseURL, cfg.Search.BaseURL)
	assert.Equal(t, search.ModeDaily, cfg.SearchMode())
	assert.Equal(t, time.Second, cfg.Search.Delay)
	assert.Equal(t, 2003, cfg.Search.StartYear)
	assert.Equal(t, 7, cfg.Search.RecentDays)
	assert.Equal(t, 4, cfg.Enrich.Workers)
	assert.True(t, cfg.Enrich.HometownEnabled)
	assert.Equal(t, 280, cfg.Enrich.CircumstancesMax)
	assert.Equal(t, "preserve", cfg.Image.Policy)
	assert.Equal(t, 1080, cfg.Image.Size)
	assert.Equal(t, 90, cfg.Image.Quality)
	assert.Equal(t, 95, cfg.Image.PreserveQuality)
	assert.Equal(t, "#1a472a", cfg.Image.PadColor)
	assert.Equal(t, 1024, cfg.Image.MinBytes)
	assert.Equal(t, time.Second, cfg.Publish.UploadInterval)
	assert.Equal(t, 10*time.Second, cfg.Publish.Delay)
	assert.True(t, cfg.Publish.FallbackLink)
	assert.True(t, cfg.Publish.VerifyCredentials)
	assert.Equal(t, pipeline.ModeSingle, cfg.PipelineMode())
	assert.Equal(t, 3, cfg.Pipeline.SingleAttempts)
	assert.Equal(t, LedgerFile, cfg.Ledger.Backend)
	assert.Equal(t, "posted_heroes.json", cfg.Ledger.Path)
	assert.Equal(t, ArchiveNone, cfg.Archive.Backend)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	setCredentials(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
search:
  mode: comprehensive
  start_date: "2007-05-01"
  end_date: "2007-05-31"
  delay: 2s
enrich:
  workers: 8
  hometown_enabled: false
image:
  policy: pad
  size: 720
pipeline:
  mode: album
ledger:
  backend: postgres
  dsn: postgres://honor@localhost/fallen
archive:
  backend: gcs
  bucket: fallen-archive
notify:
  enabled: true
  project_id: honor-project
  topic: posted
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, WithDotEnv(""))
	require.NoError(t, err)

	assert.Equal(t, search.ModeComprehensive, cfg.SearchMode())
	start, end, err := cfg.Search.Range(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2007, time.May, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2007, time.May, 31, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, 2*time.Second, cfg.Search.Delay)
	assert.Equal(t, 8, cfg.Enrich.Workers)
	assert.False(t, cfg.Enrich.HometownEnabled)
	assert.Equal(t, "pad", cfg.Image.Policy)
	assert.Equal(t, 720, cfg.Image.Size)
	assert.Equal(t, pipeline.ModeAlbum, cfg.PipelineMode())
	assert.Equal(t, LedgerPostgres, cfg.Ledger.Backend)
	assert.Equal(t, "posted_heroes", cfg.Ledger.Table)
	assert.Equal(t, ArchiveGCS, cfg.Archive.Backend)
	assert.True(t, cfg.Notify.Enabled)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	setCredentials(t)
	t.Setenv("SEARCH_MODE", "recent")
	t.Setenv("SKIP_IMAGE_PROCESSING", "true")
	t.Setenv("USE_PROXY", "true")
	t.Setenv("PROXY_URL", "http://proxy.internal:8080")

	cfg, err := Load("", WithDotEnv(""))
	require.NoError(t, err)

	assert.Equal(t, search.ModeRecent, cfg.SearchMode())
	assert.True(t, cfg.Image.SkipProcessing)
	assert.Equal(t, "http://proxy.internal:8080", cfg.HTTP.Proxy())
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	setCredentials(t)
	t.Setenv("HONOR_FACEBOOK_PAGE_ID", "999")
	t.Setenv("HONOR_PUBLISH_DELAY", "3s")
	t.Setenv("HONOR_PIPELINE_MODE", "individual")

	cfg, err := Load("", WithDotEnv(""))
	require.NoError(t, err)

	assert.Equal(t, "999", cfg.Facebook.PageID)
	assert.Equal(t, 3*time.Second, cfg.Publish.Delay)
	assert.Equal(t, pipeline.ModeIndividual, cfg.PipelineMode())
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("FB_ACCESS_TOKEN", "")
	t.Setenv("FB_PAGE_ID", "")
	// godotenv does not override variables that are already set, so clear
	// them and restore afterwards.
	require.NoError(t, os.Unsetenv("FB_ACCESS_TOKEN"))
	require.NoError(t, os.Unsetenv("FB_PAGE_ID"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FB_ACCESS_TOKEN=from-dotenv\nFB_PAGE_ID=42\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("FB_ACCESS_TOKEN")
		_ = os.Unsetenv("FB_PAGE_ID")
	})

	cfg, err := Load("", WithDotEnv(path))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Facebook.AccessToken)
	assert.Equal(t, "42", cfg.Facebook.PageID)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	setCredentials(t)

	_, err := Load("", WithDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, err)
}

func TestLoadWithoutCredentials(t *testing.T) {
	t.Setenv("FB_ACCESS_TOKEN", "")
	t.Setenv("FB_PAGE_ID", "")

	_, err := Load("", WithDotEnv(""))
	require.ErrorIs(t, err, ErrInvalid)

	cfg, err := Load("", WithDotEnv(""), WithoutCredentials())
	require.NoError(t, err)
	assert.False(t, cfg.RequireCredentials)
}

func TestLoadMissingFile(t *testing.T) {
	setCredentials(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), WithDotEnv(""))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalid))
}

func validConfig() Config {
	return Config{
		Facebook:           FacebookConfig{AccessToken: "token", PageID: "123"},
		HTTP:               HTTPConfig{Timeout: time.Second},
		Search:             SearchConfig{Mode: "daily", StartYear: 2003},
		Enrich:             EnrichConfig{Workers: 1},
		Image:              ImageConfig{Policy: "preserve", Size: 1080, PadColor: "#1a472a"},
		Pipeline:           PipelineConfig{Mode: "single"},
		Ledger:             LedgerConfig{Backend: LedgerFile, Path: "posted_heroes.json"},
		Archive:            ArchiveConfig{Backend: ArchiveNone},
		RequireCredentials: true,
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing token", mutate: func(c *Config) { c.Facebook.AccessToken = "" }, want: "facebook.access_token"},
		{name: "missing page", mutate: func(c *Config) { c.Facebook.PageID = "" }, want: "facebook.page_id"},
		{name: "non-numeric page", mutate: func(c *Config) { c.Facebook.PageID = "my-page" }, want: "must be numeric"},
		{name: "proxy without url", mutate: func(c *Config) { c.HTTP.UseProxy = true }, want: "http.proxy_url"},
		{name: "timeout", mutate: func(c *Config) { c.HTTP.Timeout = 0 }, want: "http.timeout"},
		{name: "search mode", mutate: func(c *Config) { c.Search.Mode = "weekly" }, want: "search.mode"},
		{name: "comprehensive without dates", mutate: func(c *Config) { c.Search.Mode = "comprehensive" }, want: "comprehensive"},
		{
			name: "reversed range",
			mutate: func(c *Config) {
				c.Search.Mode = "comprehensive"
				c.Search.StartDate = "2007-06-01"
				c.Search.EndDate = "2007-05-01"
			},
			want: "precedes",
		},
		{name: "bad date", mutate: func(c *Config) { c.Search.StartDate = "05/01/2007" }, want: "search.start_date"},
		{name: "timezone", mutate: func(c *Config) { c.Search.Timezone = "Mars/Olympus" }, want: "search.timezone"},
		{name: "start year", mutate: func(c *Config) { c.Search.StartYear = 0 }, want: "search.start_year"},
		{
			name:   "future start year",
			mutate: func(c *Config) { c.Search.StartYear = time.Now().Year() + 1 },
			want:   "after the current year",
		},
		{name: "workers", mutate: func(c *Config) { c.Enrich.Workers = 0 }, want: "enrich.workers"},
		{name: "policy", mutate: func(c *Config) { c.Image.Policy = "stretch" }, want: "image.policy"},
		{name: "size", mutate: func(c *Config) { c.Image.Size = 0 }, want: "image.size"},
		{name: "pad color", mutate: func(c *Config) { c.Image.PadColor = "green" }, want: "image.pad_color"},
		{name: "pipeline mode", mutate: func(c *Config) { c.Pipeline.Mode = "batch" }, want: "pipeline.mode"},
		{name: "ledger backend", mutate: func(c *Config) { c.Ledger.Backend = "redis" }, want: "ledger.backend"},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Ledger.Backend = LedgerPostgres },
			want:   "ledger.dsn",
		},
		{name: "archive backend", mutate: func(c *Config) { c.Archive.Backend = "s3" }, want: "archive.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = ArchiveGCS }, want: "archive.bucket"},
		{
			name:   "local without dir",
			mutate: func(c *Config) { c.Archive.Backend = ArchiveLocal },
			want:   "archive.dir",
		},
		{name: "notify without topic", mutate: func(c *Config) { c.Notify.Enabled = true }, want: "notify.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSkipsCredentialsWhenNotRequired(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.RequireCredentials = false
	cfg.Facebook = FacebookConfig{}
	require.NoError(t, cfg.Validate())
}
