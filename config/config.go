package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Search    SearchConfig    `mapstructure:"search"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	StreamEnabled bool   `mapstructure:"stream_enabled"`
}

// LLMConfig contains the completion provider configuration
type LLMConfig struct {
	Type            string        `mapstructure:"type"` // openai is the only supported type today
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

// ResearchConfig contains the knobs of the research pipeline
type ResearchConfig struct {
	DefaultBreadth     int  `mapstructure:"default_breadth"`
	DefaultDepth       int  `mapstructure:"default_depth"`
	ConcurrencyLimit   int  `mapstructure:"concurrency_limit"`
	ContextSize        int  `mapstructure:"context_size"` // character budget for report context
	MaxResultsPerQuery int  `mapstructure:"max_results_per_query"`
	EnableSummary      bool `mapstructure:"enable_summary"`
	EnableFetchContent bool `mapstructure:"enable_fetch_content"`
}

// SearchConfig contains search backend settings
type SearchConfig struct {
	Source        string        `mapstructure:"source"` // serper, tavily, index
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	SerperBaseURL string        `mapstructure:"serper_base_url"`
	TavilyAPIKey  string        `mapstructure:"tavily_api_key"`
	TavilyBaseURL string        `mapstructure:"tavily_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	Fetcher       string        `mapstructure:"fetcher"` // plain, chromedp, or empty to disable
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL     string `mapstructure:"url"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"password"`
	DBName  string `mapstructure:"dbname"`
	SSLMode string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("depthcharge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DEPTHCHARGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional, defaults plus env are enough to run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.max_processing_time", "10m")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("server.address", ":10002")
	v.SetDefault("server.stream_enabled", true)

	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "o3-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("research.default_breadth", 3)
	v.SetDefault("research.default_depth", 2)
	v.SetDefault("research.concurrency_limit", 2)
	v.SetDefault("research.context_size", 128000)
	v.SetDefault("research.max_results_per_query", 5)
	v.SetDefault("research.enable_summary", true)
	v.SetDefault("research.enable_fetch_content", false)

	v.SetDefault("search.source", "serper")
	v.SetDefault("search.serper_base_url", "https://google.serper.dev")
	v.SetDefault("search.tavily_base_url", "https://api.tavily.com")
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.cache_ttl", "10m")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
	v.SetDefault("telemetry.periodic_logs", false)

	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
}

// overrideFromEnv overrides configuration with well-known environment variables
func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("llm.api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		v.Set("search.serper_api_key", apiKey)
	}
	if apiKey := os.Getenv("TAVILY_API_KEY"); apiKey != "" {
		v.Set("search.tavily_api_key", apiKey)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Research.DefaultBreadth <= 0 {
		return fmt.Errorf("research.default_breadth must be > 0")
	}
	if cfg.Research.DefaultDepth <= 0 {
		return fmt.Errorf("research.default_depth must be > 0")
	}
	if cfg.Research.ConcurrencyLimit <= 0 {
		return fmt.Errorf("research.concurrency_limit must be > 0")
	}
	if cfg.Research.ContextSize <= 0 {
		return fmt.Errorf("research.context_size must be > 0")
	}
	switch cfg.Search.Source {
	case "serper", "tavily", "index":
	default:
		return fmt.Errorf("unsupported search source: %s", cfg.Search.Source)
	}
	return nil
}
