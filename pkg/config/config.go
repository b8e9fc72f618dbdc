package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the dashboard backend
type Config struct {
	// Acting user and scrape defaults
	App AppConfig `yaml:"app" json:"app"`

	// Apify job runner
	Apify ApifyConfig `yaml:"apify" json:"apify"`

	// Supabase project (storage + edge functions)
	Supabase SupabaseConfig `yaml:"supabase" json:"supabase"`

	// Postgres connection
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Object storage backend
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Image acquisition behaviour
	Acquisition AcquisitionConfig `yaml:"acquisition" json:"acquisition"`

	// Job tracker polling
	Tracker TrackerConfig `yaml:"tracker" json:"tracker"`

	// Image proxy
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// HTTP API
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// AppConfig identifies the acting user when no request header provides one
type AppConfig struct {
	UserID       string `yaml:"user_id" json:"user_id"`
	ResultsLimit int    `yaml:"results_limit" json:"results_limit"`
}

// ApifyConfig holds Apify API configuration
type ApifyConfig struct {
	Token             string        `yaml:"token" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	ActorID           string        `yaml:"actor_id" json:"actor_id"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
}

// SupabaseConfig holds the Supabase project settings
type SupabaseConfig struct {
	URL            string `yaml:"url" json:"url"`
	ServiceKey     string `yaml:"service_key" json:"-"`
	Bucket         string `yaml:"bucket" json:"bucket"`
	FetchFunction  string `yaml:"fetch_function" json:"fetch_function"`
	FileSizeLimit  int64  `yaml:"file_size_limit" json:"file_size_limit"`
	UploadAttempts int    `yaml:"upload_attempts" json:"upload_attempts"`
}

// DatabaseConfig holds Postgres settings. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" json:"-"`
	MaxConns       int32  `yaml:"max_conns" json:"max_conns"`
	SimpleProtocol bool   `yaml:"simple_protocol" json:"simple_protocol"`
	ProfilesTable  string `yaml:"profiles_table" json:"profiles_table"`
	PostsTable     string `yaml:"posts_table" json:"posts_table"`
}

// StorageConfig selects the object storage backend
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend"`
	LocalDir      string `yaml:"local_dir" json:"local_dir"`
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
}

// AcquisitionConfig holds image acquisition settings
type AcquisitionConfig struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout" json:"upload_timeout"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
	Referer       string        `yaml:"referer" json:"referer"`
	ProxyPrefix   string        `yaml:"proxy_prefix" json:"proxy_prefix"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	BatchPause    time.Duration `yaml:"batch_pause" json:"batch_pause"`
	MaxImageBytes int64         `yaml:"max_image_bytes" json:"max_image_bytes"`
}

// TrackerConfig holds job tracker settings
type TrackerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	HistorySize  int           `yaml:"history_size" json:"history_size"`
}

// ProxyConfig holds image proxy settings
type ProxyConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	Hosts           []string      `yaml:"hosts" json:"hosts"`
	CacheTTL        time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" json:"upstream_timeout"`
	RateLimitMax    int           `yaml:"rate_limit_max" json:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`
	MaxImageBytes   int64         `yaml:"max_image_bytes" json:"max_image_bytes"`
	// TrustedProxies lists IPs or CIDRs whose X-Forwarded-For header is honoured
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultCDNHosts are the upstream hosts the image proxy tries in order
var DefaultCDNHosts = []string{
	"scontent.cdninstagram.com",
	"scontent-gru2-1.cdninstagram.com",
	"scontent-gru2-2.cdninstagram.com",
	"scontent-mia3-1.cdninstagram.com",
	"scontent-mia3-2.cdninstagram.com",
	"scontent-mia3-3.cdninstagram.com",
	"scontent-mia5-1.cdninstagram.com",
	"instagram.com",
	"fbcdn.net",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ResultsLimit: 100,
		},
		Apify: ApifyConfig{
			BaseURL:           "https://api.apify.com",
			ActorID:           "apify~instagram-scraper",
			RequestsPerSecond: 5,
			MaxRetries:        3,
			RetryDelay:        2 * time.Second,
			Timeout:           30 * time.Second,
		},
		Supabase: SupabaseConfig{
			Bucket:         "instagram-images",
			FetchFunction:  "download-instagram-image",
			FileSizeLimit:  50 * 1024 * 1024,
			UploadAttempts: 3,
		},
		Database: DatabaseConfig{
			MaxConns:      5,
			ProfilesTable: "instagram_profiles",
			PostsTable:    "instagram_posts",
		},
		Storage: StorageConfig{
			Backend:       "supabase",
			LocalDir:      "./media",
			PublicBaseURL: "http://localhost:8080/media",
		},
		Acquisition: AcquisitionConfig{
			FetchTimeout:  12 * time.Second,
			UploadTimeout: 30 * time.Second,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Referer:       "https://www.instagram.com/",
			ProxyPrefix:   "/image-proxy",
			BatchSize:     3,
			BatchPause:    time.Second,
			MaxImageBytes: 50 * 1024 * 1024,
		},
		Tracker: TrackerConfig{
			PollInterval: 15 * time.Second,
			HistorySize:  20,
		},
		Proxy: ProxyConfig{
			Addr:            ":3001",
			Hosts:           append([]string(nil), DefaultCDNHosts...),
			CacheTTL:        time.Hour,
			UpstreamTimeout: 15 * time.Second,
			RateLimitMax:    100,
			RateLimitWindow: 15 * time.Minute,
			MaxImageBytes:   50 * 1024 * 1024,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString(&c.App.UserID, "SOCIALDASH_USER_ID")
	setInt(&c.App.ResultsLimit, "SOCIALDASH_RESULTS_LIMIT")

	setString(&c.Apify.Token, "SOCIALDASH_APIFY_TOKEN", "APIFY_TOKEN")
	setString(&c.Apify.BaseURL, "SOCIALDASH_APIFY_BASE_URL")
	setString(&c.Apify.ActorID, "SOCIALDASH_APIFY_ACTOR")

	setString(&c.Supabase.URL, "SOCIALDASH_SUPABASE_URL", "SUPABASE_URL")
	setString(&c.Supabase.ServiceKey, "SOCIALDASH_SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	setString(&c.Supabase.Bucket, "SOCIALDASH_SUPABASE_BUCKET")

	setString(&c.Database.DSN, "SOCIALDASH_DATABASE_DSN", "DATABASE_URL")
	if v := os.Getenv("SOCIALDASH_DATABASE_SIMPLE_PROTOCOL"); v != "" {
		c.Database.SimpleProtocol = strings.ToLower(v) == "true"
	}

	setString(&c.Storage.Backend, "SOCIALDASH_STORAGE_BACKEND")
	setString(&c.Storage.LocalDir, "SOCIALDASH_STORAGE_DIR")
	setString(&c.Storage.PublicBaseURL, "SOCIALDASH_STORAGE_PUBLIC_URL")

	setString(&c.Acquisition.ProxyPrefix, "SOCIALDASH_PROXY_PREFIX")
	setDuration(&c.Acquisition.FetchTimeout, "SOCIALDASH_FETCH_TIMEOUT")
	setDuration(&c.Acquisition.UploadTimeout, "SOCIALDASH_UPLOAD_TIMEOUT")
	setInt(&c.Acquisition.BatchSize, "SOCIALDASH_BATCH_SIZE")

	setDuration(&c.Tracker.PollInterval, "SOCIALDASH_POLL_INTERVAL")

	setString(&c.Server.Addr, "SOCIALDASH_ADDR")
	setString(&c.Proxy.Addr, "SOCIALDASH_PROXY_ADDR")
	if v := os.Getenv("SOCIALDASH_PROXY_TRUSTED"); v != "" {
		c.Proxy.TrustedProxies = strings.Split(v, ",")
	}

	if logLevel := os.Getenv("SOCIALDASH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	setString(&c.Logging.File, "SOCIALDASH_LOG_FILE")

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".socialdash.yaml",
		".socialdash.yml",
		filepath.Join(home, ".config", "socialdash", "config.yaml"),
		filepath.Join(home, ".config", "socialdash", "config.yml"),
		filepath.Join(home, ".socialdash.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Missing credentials are not
// errors here; the components that need them report configuration errors lazily.
func (c *Config) Validate() error {
	var errs []error

	if c.App.ResultsLimit <= 0 {
		errs = append(errs, errors.New("results limit must be positive"))
	}
	if c.Apify.ActorID == "" {
		errs = append(errs, errors.New("apify actor id is required"))
	}
	if c.Apify.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("apify requests per second must be positive"))
	}
	if c.Apify.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Supabase.Bucket == "" {
		errs = append(errs, errors.New("storage bucket is required"))
	}

	switch c.Storage.Backend {
	case "supabase":
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("local storage directory is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Acquisition.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Acquisition.BatchPause < 0 {
		errs = append(errs, errors.New("batch pause cannot be negative"))
	}
	if c.Acquisition.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Acquisition.UploadTimeout <= 0 {
		errs = append(errs, errors.New("upload timeout must be positive"))
	}
	if !strings.HasPrefix(c.Acquisition.ProxyPrefix, "/") {
		errs = append(errs, errors.New("proxy prefix must start with /"))
	}

	if c.Tracker.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Tracker.HistorySize < 0 {
		errs = append(errs, errors.New("history size cannot be negative"))
	}

	if c.Proxy.CacheTTL <= 0 {
		errs = append(errs, errors.New("proxy cache ttl must be positive"))
	}
	if len(c.Proxy.Hosts) == 0 {
		errs = append(errs, errors.New("at least one proxy host is required"))
	}
	if c.Proxy.RateLimitMax <= 0 || c.Proxy.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("proxy rate limit must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file. Secrets are never written.
func (c *Config) Save(path string) error {
	clean := *c
	clean.Apify.Token = ""
	clean.Supabase.ServiceKey = ""
	clean.Database.DSN = ""

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if userID, ok := flags["user"].(string); ok && userID != "" {
		c.App.UserID = userID
	}
	if limit, ok := flags["limit"].(int); ok && limit > 0 {
		c.App.ResultsLimit = limit
	}
	if backend, ok := flags["storage"].(string); ok && backend != "" {
		c.Storage.Backend = backend
	}
	if dsn, ok := flags["dsn"].(string); ok && dsn != "" {
		c.Database.DSN = dsn
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.Server.Addr = addr
	}
	if interval, ok := flags["poll-interval"].(time.Duration); ok && interval > 0 {
		c.Tracker.PollInterval = interval
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".socialdash.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
