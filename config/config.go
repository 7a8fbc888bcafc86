package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the discovery service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, anthropic, openrouter
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string   `mapstructure:"name"`
	APIName         string   `mapstructure:"api_name"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     float64  `mapstructure:"temperature"`
	CostPer1K       float64  `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64  `mapstructure:"cost_per_1k_output"`
	Capabilities    []string `mapstructure:"capabilities"` // planning, extraction, analysis
}

// LLMRoutingConfig defines which model to use for different pipeline stages
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`   // query planning
	Extraction string `mapstructure:"extraction"` // per-page candidate extraction
	Analysis   string `mapstructure:"analysis"`   // sufficiency analysis
	Fallback   string `mapstructure:"fallback"`   // fallback model
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MetricsPort  int  `mapstructure:"metrics_port"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// DiscoveryConfig bounds a single discovery session
type DiscoveryConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	MaxResultsPerQuery int           `mapstructure:"max_results_per_query"`
	MaxContentChars    int           `mapstructure:"max_content_chars"`
	MaxRetryAttempts   int           `mapstructure:"max_retry_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	AnalyzerFailOpen   bool          `mapstructure:"analyzer_fail_open"`
	AllowedDomains     []string      `mapstructure:"allowed_domains"`
	RecencyDays        int           `mapstructure:"recency_days"`
}

func (d DiscoveryConfig) Validate() error {
	if d.MaxIterations <= 0 {
		return fmt.Errorf("discovery.max_iterations must be > 0")
	}
	if d.MaxRetryAttempts <= 0 {
		return fmt.Errorf("discovery.max_retry_attempts must be > 0")
	}
	return nil
}

// SourcesConfig configures the outbound search and fetch capabilities
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig selects the search provider
type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // serper, brave
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
}

// WebFetchConfig bounds the page fetcher
type WebFetchConfig struct {
	Type      string        `mapstructure:"type"` // chromedp
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if p.URL == "" && p.Host != "" && p.DBName == "" {
		return fmt.Errorf("storage.postgres.dbname required when host is provided")
	}
	return nil
}

// DSN builds a connection string from either the URL or the discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if r.DB < 0 {
		return fmt.Errorf("storage.redis.db must be >= 0")
	}
	return nil
}

// SchedulerConfig controls scheduled re-discovery
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("discovery.max_iterations", 2)
	viper.SetDefault("discovery.max_results_per_query", 10)
	viper.SetDefault("discovery.max_content_chars", 15000)
	viper.SetDefault("discovery.max_retry_attempts", 3)
	viper.SetDefault("discovery.retry_base_delay", "1s")
	viper.SetDefault("discovery.analyzer_fail_open", true)
	viper.SetDefault("discovery.recency_days", 365)
	viper.SetDefault("sources.web_fetch.type", "chromedp")
	viper.SetDefault("sources.web_fetch.timeout", "15s")
	viper.SetDefault("scheduler.tick_interval", "1h")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SCOUT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (SCOUT_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Discovery.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
