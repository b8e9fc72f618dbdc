package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.App.ResultsLimit)
	assert.Equal(t, "apify~instagram-scraper", cfg.Apify.ActorID)
	assert.Equal(t, "instagram-images", cfg.Supabase.Bucket)
	assert.Equal(t, int64(50*1024*1024), cfg.Supabase.FileSizeLimit)
	assert.Equal(t, "instagram_profiles", cfg.Database.ProfilesTable)
	assert.Equal(t, "instagram_posts", cfg.Database.PostsTable)
	assert.Equal(t, 3, cfg.Acquisition.BatchSize)
	assert.Equal(t, time.Second, cfg.Acquisition.BatchPause)
	assert.Equal(t, "/image-proxy", cfg.Acquisition.ProxyPrefix)
	assert.Equal(t, 15*time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, time.Hour, cfg.Proxy.CacheTTL)
	assert.Equal(t, 100, cfg.Proxy.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.Proxy.RateLimitWindow)
	assert.Contains(t, cfg.Proxy.Hosts, "scontent.cdninstagram.com")
	assert.Empty(t, cfg.Proxy.TrustedProxies)
	assert.Equal(t, 30*time.Second, cfg.Acquisition.UploadTimeout)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SOCIALDASH_APIFY_TOKEN", "apify-token")
	t.Setenv("SOCIALDASH_SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SOCIALDASH_USER_ID", "user-1")
	t.Setenv("SOCIALDASH_BATCH_SIZE", "5")
	t.Setenv("SOCIALDASH_POLL_INTERVAL", "30s")
	t.Setenv("SOCIALDASH_LOG_LEVEL", "debug")
	t.Setenv("SOCIALDASH_UPLOAD_TIMEOUT", "45s")
	t.Setenv("SOCIALDASH_PROXY_TRUSTED", "10.0.0.0/8,127.0.0.1")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "apify-token", cfg.Apify.Token)
	assert.Equal(t, "https://proj.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "user-1", cfg.App.UserID)
	assert.Equal(t, 5, cfg.Acquisition.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 45*time.Second, cfg.Acquisition.UploadTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Proxy.TrustedProxies)
}

func TestLoadFromEnvFallbackNames(t *testing.T) {
	t.Setenv("APIFY_TOKEN", "fallback-token")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-key")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "fallback-token", cfg.Apify.Token)
	assert.Equal(t, "service-key", cfg.Supabase.ServiceKey)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("SOCIALDASH_BATCH_SIZE", "many")
	t.Setenv("SOCIALDASH_POLL_INTERVAL", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOCIALDASH_BATCH_SIZE")
	assert.Contains(t, err.Error(), "SOCIALDASH_POLL_INTERVAL")
	assert.Equal(t, 3, cfg.Acquisition.BatchSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
app:
  user_id: file-user
supabase:
  bucket: custom-bucket
storage:
  backend: local
  local_dir: /tmp/media
tracker:
  poll_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "file-user", cfg.App.UserID)
	assert.Equal(t, "custom-bucket", cfg.Supabase.Bucket)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Tracker.PollInterval)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Acquisition.BatchSize)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("app: [unclosed"), 0600))
	assert.Error(t, cfg.LoadFromFile(bad))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "unknown storage backend"},
		{"zero batch", func(c *Config) { c.Acquisition.BatchSize = 0 }, "batch size must be positive"},
		{"relative proxy prefix", func(c *Config) { c.Acquisition.ProxyPrefix = "image-proxy" }, "proxy prefix"},
		{"zero poll interval", func(c *Config) { c.Tracker.PollInterval = 0 }, "poll interval"},
		{"no hosts", func(c *Config) { c.Proxy.Hosts = nil }, "proxy host"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Acquisition.BatchSize = 0
	cfg.Tracker.PollInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")
	assert.Contains(t, err.Error(), "poll interval")
}

func TestSaveStripsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apify.Token = "secret-token"
	cfg.Supabase.ServiceKey = "secret-key"
	cfg.Database.DSN = "postgres://user:pw@host/db"
	cfg.App.UserID = "user-1"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-token")
	assert.NotContains(t, string(data), "secret-key")
	assert.NotContains(t, string(data), "pw@host")

	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, "user-1", loaded.App.UserID)

	// the caller's config is left intact
	assert.Equal(t, "secret-token", cfg.Apify.Token)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"user":          "flag-user",
		"limit":         25,
		"storage":       "local",
		"poll-interval": 2 * time.Second,
		"log-level":     "warn",
		"addr":          "",
	})

	assert.Equal(t, "flag-user", cfg.App.UserID)
	assert.Equal(t, 25, cfg.App.ResultsLimit)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  user_id: from-file\n  results_limit: 10\n"), 0600))

	t.Setenv("SOCIALDASH_USER_ID", "from-env")

	cfg, err := Load(path, map[string]interface{}{"limit": 42})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.App.UserID)
	assert.Equal(t, 42, cfg.App.ResultsLimit)
}
