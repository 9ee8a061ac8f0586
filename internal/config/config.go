package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports missing or invalid configuration. It is
// surfaced before any network call is made.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration errors: %v", e.Problems)
}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Export   ExportConfig   `yaml:"export"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Reports  ReportsConfig  `yaml:"reports"`
	Email    EmailConfig    `yaml:"email"`
	KEV      KEVConfig      `yaml:"kev"`
}

// APIConfig holds the remote asset-management service connection.
// Credentials come from the environment, never from the YAML file.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UserAgent string `yaml:"user_agent"`
	Timeout   int    `yaml:"timeout_seconds"`
}

type ExportConfig struct {
	AssetsPerChunk   int `yaml:"assets_per_chunk"`
	PollInterval     int `yaml:"poll_interval_seconds"`
	PollTimeout      int `yaml:"poll_timeout_seconds"`
	ConcurrentChunks int `yaml:"concurrent_chunks"`
	ChunkRetries     int `yaml:"chunk_retries"`
	RetryBackoff     int `yaml:"retry_backoff_seconds"`
	RetryBackoffCap  int `yaml:"retry_backoff_cap_seconds"`
}

type CacheConfig struct {
	Dir         string `yaml:"dir"`
	MaxAgeHours int    `yaml:"max_age_hours"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// KEVConfig controls enrichment from the CISA Known Exploited
// Vulnerabilities catalog.
type KEVConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type ReportsConfig struct {
	OutputDir string `yaml:"output_dir"`
}

type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPServer string   `yaml:"smtp_server"`
	SMTPPort   int      `yaml:"smtp_port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	FromAddr   string   `yaml:"from_addr"`
	ToAddr     []string `yaml:"to_addr"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://cloud.tenable.com",
			UserAgent: "vulnreport/1.0",
			Timeout:   30,
		},
		Export: ExportConfig{
			AssetsPerChunk:   5000,
			PollInterval:     5,
			PollTimeout:      3600,
			ConcurrentChunks: 5,
			ChunkRetries:     4,
			RetryBackoff:     2,
			RetryBackoffCap:  30,
		},
		Cache: CacheConfig{
			Dir:         "./.cache",
			MaxAgeHours: 24,
		},
		Database: DatabaseConfig{
			Path: "./data/vulnreport.db",
		},
		Reports: ReportsConfig{
			OutputDir: "./reports",
		},
		KEV: KEVConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads the configuration from the given YAML path and then
// applies environment overrides. A missing file is not an error; the
// defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if file, err := os.Open(path); err == nil {
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.loadEnv()
	return cfg, nil
}

// loadEnv pulls credentials and overrides from the environment,
// honoring a .env file if one is present.
func (c *Config) loadEnv() {
	// Best effort; absence of .env is normal.
	_ = godotenv.Load()

	c.API.AccessKey = os.Getenv("TENABLE_ACCESS_KEY")
	c.API.SecretKey = os.Getenv("TENABLE_SECRET_KEY")
	if v := os.Getenv("TENABLE_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v, ok := envInt("CACHE_MAX_AGE_HOURS"); ok {
		c.Cache.MaxAgeHours = v
	}
	if v, ok := envInt("EXPORT_CONCURRENT_CHUNKS"); ok {
		c.Export.ConcurrentChunks = v
	}
	if v, ok := envInt("EXPORT_POLL_TIMEOUT"); ok {
		c.Export.PollTimeout = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Validate checks that everything needed before the first network call
// is present.
func (c *Config) Validate() error {
	var problems []string
	if c.API.AccessKey == "" {
		problems = append(problems, "TENABLE_ACCESS_KEY is required")
	}
	if c.API.SecretKey == "" {
		problems = append(problems, "TENABLE_SECRET_KEY is required")
	}
	if c.API.BaseURL == "" {
		problems = append(problems, "api.base_url is required")
	}
	if c.Export.ConcurrentChunks < 1 {
		problems = append(problems, "export.concurrent_chunks must be at least 1")
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// PollInterval returns the export status poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Export.PollInterval) * time.Second
}

// PollTimeout returns the wall-clock ceiling for export polling.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Export.PollTimeout) * time.Second
}
