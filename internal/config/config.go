package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Collect   CollectConfig   `yaml:"collect" mapstructure:"collect"`
	Campaign  CampaignConfig  `yaml:"campaign" mapstructure:"campaign"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the campaign persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings used for lead scoring and content generation.
type AnthropicConfig struct {
	Key                string  `yaml:"key" mapstructure:"key"`
	Model              string  `yaml:"model" mapstructure:"model"`
	MaxTokens          int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	ScoreChunkSize     int     `yaml:"score_chunk_size" mapstructure:"score_chunk_size"`
	ScoreConcurrency   int     `yaml:"score_concurrency" mapstructure:"score_concurrency"`
	ContentTemperature float64 `yaml:"content_temperature" mapstructure:"content_temperature"` // zero keeps the model default
}

// BrowserConfig configures the headless browser that observes the listing feed.
type BrowserConfig struct {
	Headless              bool     `yaml:"headless" mapstructure:"headless"`
	Bin                   string   `yaml:"bin" mapstructure:"bin"`
	SearchBaseURL         string   `yaml:"search_base_url" mapstructure:"search_base_url"`
	UserAgent             string   `yaml:"user_agent" mapstructure:"user_agent"`
	ViewportWidth         int      `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight        int      `yaml:"viewport_height" mapstructure:"viewport_height"`
	NavigationTimeoutSecs int      `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
	OpensPerSecond        float64  `yaml:"opens_per_second" mapstructure:"opens_per_second"`
	SourceDomains         []string `yaml:"source_domains" mapstructure:"source_domains"`
}

// NavigationTimeout returns the page navigation timeout.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.NavigationTimeoutSecs) * time.Second
}

// CollectConfig tunes the per-query collection loop.
type CollectConfig struct {
	MaxStagnantIterations int `yaml:"max_stagnant_iterations" mapstructure:"max_stagnant_iterations"`
	NavigationSettleMs    int `yaml:"navigation_settle_ms" mapstructure:"navigation_settle_ms"`
	ScrollSettleMs        int `yaml:"scroll_settle_ms" mapstructure:"scroll_settle_ms"`
}

// CampaignConfig configures campaign orchestration.
type CampaignConfig struct {
	DefaultMaxResults int    `yaml:"default_max_results" mapstructure:"default_max_results"`
	BatchDelayMs      int    `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	ContentLimit      int    `yaml:"content_limit" mapstructure:"content_limit"`
	ContentOrder      string `yaml:"content_order" mapstructure:"content_order"`
}

// RetryConfig configures retries of external calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.score_chunk_size", 20)
	v.SetDefault("anthropic.score_concurrency", 3)
	v.SetDefault("anthropic.content_temperature", 0.7)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.search_base_url", "https://www.google.com/maps/search/")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.navigation_timeout_secs", 60)
	v.SetDefault("browser.opens_per_second", 1.0)
	v.SetDefault("browser.source_domains", []string{"google.com", "plus.codes"})
	v.SetDefault("collect.max_stagnant_iterations", 5)
	v.SetDefault("collect.navigation_settle_ms", 3000)
	v.SetDefault("collect.scroll_settle_ms", 2000)
	v.SetDefault("campaign.default_max_results", 120)
	v.SetDefault("campaign.batch_delay_ms", 3000)
	v.SetDefault("campaign.content_limit", 5)
	v.SetDefault("campaign.content_order", "discovery")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.breaker_threshold", 3)
	v.SetDefault("retry.breaker_reset_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
