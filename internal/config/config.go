package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	GeoNode GeoNodeConfig `json:"geonode"`
	Checker CheckerConfig `json:"checker"`
	Output  OutputConfig  `json:"output"`
	Storage StorageConfig `json:"storage"`
	API     APIConfig     `json:"api"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

type GeoNodeConfig struct {
	BaseURL           string  `json:"base_url"`
	Pages             int     `json:"pages"`
	PageLimit         int     `json:"page_limit"`
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type CheckerConfig struct {
	Workers        int    `json:"workers"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	TopResults     int    `json:"top_results"`
	HTTPTestURL    string `json:"http_test_url"`
	HTTPSTestURL   string `json:"https_test_url"`
	SocksEnabled   bool   `json:"socks_enabled"`

	EnableFastFilter      bool `json:"enable_fast_filter"`
	FastFilterTimeoutMs   int  `json:"fast_filter_timeout_ms"`
	FastFilterConcurrency int  `json:"fast_filter_concurrency"`
}

// Timeout returns the per-probe timeout as a duration.
func (c CheckerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type OutputConfig struct {
	ResultsPath string `json:"results_path"`
	WorkingPath string `json:"working_path"`
	FastestPath string `json:"fastest_path"`
}

type StorageConfig struct {
	Type string `json:"type"` // "none", "file", "sqlite", "redis"
	Path string `json:"path"`
}

type APIConfig struct {
	Enabled            bool   `json:"enabled"`
	Addr               string `json:"addr"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no config file is given. The
// checker defaults (10 workers, 10s timeout, top 10) match the CLI defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a JSON file, fills defaults and validates.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GeoNode.BaseURL == "" {
		c.GeoNode.BaseURL = "https://proxylist.geonode.com/api/proxy-list"
	}
	if c.GeoNode.Pages == 0 {
		c.GeoNode.Pages = 1
	}
	if c.GeoNode.PageLimit == 0 {
		c.GeoNode.PageLimit = 500
	}
	if c.GeoNode.UserAgent == "" {
		c.GeoNode.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	}
	if c.GeoNode.RequestsPerSecond == 0 {
		c.GeoNode.RequestsPerSecond = 1
	}
	if c.Checker.Workers == 0 {
		c.Checker.Workers = 10
	}
	if c.Checker.TimeoutSeconds == 0 {
		c.Checker.TimeoutSeconds = 10
	}
	if c.Checker.TopResults == 0 {
		c.Checker.TopResults = 10
	}
	if c.Checker.HTTPTestURL == "" {
		c.Checker.HTTPTestURL = "http://httpbin.org/ip"
	}
	if c.Checker.HTTPSTestURL == "" {
		c.Checker.HTTPSTestURL = "https://httpbin.org/ip"
	}
	if c.Checker.FastFilterTimeoutMs == 0 {
		c.Checker.FastFilterTimeoutMs = 2000
	}
	if c.Checker.FastFilterConcurrency == 0 {
		c.Checker.FastFilterConcurrency = 200
	}
	if c.Output.ResultsPath == "" {
		c.Output.ResultsPath = "proxy_results.txt"
	}
	if c.Output.WorkingPath == "" {
		c.Output.WorkingPath = "working_proxies.txt"
	}
	if c.Output.FastestPath == "" {
		c.Output.FastestPath = "fastest_proxies.txt"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "none"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "proxy_snapshot.json"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8083"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 1200
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "geonodechecker"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity. Errors here are the only fatal
// errors the checker can produce; they are reported before any probe runs.
func (c *Config) Validate() error {
	if c.Checker.Workers < 1 || c.Checker.Workers > 10000 {
		return fmt.Errorf("workers must be between 1 and 10000")
	}
	if c.Checker.TimeoutSeconds < 1 || c.Checker.TimeoutSeconds > 300 {
		return fmt.Errorf("timeout_seconds must be between 1 and 300")
	}
	if c.Checker.TopResults < 1 {
		return fmt.Errorf("top_results must be positive")
	}
	if c.GeoNode.Pages < 1 {
		return fmt.Errorf("pages must be positive")
	}
	if c.GeoNode.PageLimit < 1 || c.GeoNode.PageLimit > 500 {
		return fmt.Errorf("page_limit must be between 1 and 500")
	}
	switch c.Storage.Type {
	case "none", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("storage type must be 'none', 'file', 'sqlite', or 'redis'")
	}
	return nil
}
