package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dramcove/catalog-cli/internal/enrich"
	"github.com/dramcove/catalog-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Unblock   UnblockConfig   `yaml:"unblock" mapstructure:"unblock"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Enrich    enrich.Config   `yaml:"enrich" mapstructure:"enrich"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// FetchConfig configures the tiered fetch engine.
type FetchConfig struct {
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
	DirectTimeoutSecs  int      `yaml:"direct_timeout_secs" mapstructure:"direct_timeout_secs"`
	RenderTimeoutSecs  int      `yaml:"render_timeout_secs" mapstructure:"render_timeout_secs"`
	RenderEnabled      bool     `yaml:"render_enabled" mapstructure:"render_enabled"`
	AffirmationPhrases []string `yaml:"affirmation_phrases" mapstructure:"affirmation_phrases"`
	MinDelayMillis     int      `yaml:"min_delay_millis" mapstructure:"min_delay_millis"`
	MaxInFlight        int      `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	RetryAttempts      int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// UnblockConfig holds the tier-3 anti-bot proxy settings.
type UnblockConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ExtractConfig holds the extraction service settings.
type ExtractConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SearchConfig holds the web search API settings.
type SearchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings for the extraction fallback.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// MatchConfig configures record resolution.
type MatchConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// QueueConfig configures batch processing.
type QueueConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
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

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.direct_timeout_secs", 15)
	v.SetDefault("fetch.render_timeout_secs", 45)
	v.SetDefault("fetch.render_enabled", true)
	v.SetDefault("fetch.affirmation_phrases", []string{"enter", "yes", "i am 21", "i am over 18", "i'm over 18"})
	v.SetDefault("fetch.min_delay_millis", 1500)
	v.SetDefault("fetch.max_in_flight", 2)
	v.SetDefault("fetch.retry_attempts", 3)
	// Empty-string defaults register the key paths so AutomaticEnv can bind
	// CATALOG_*_KEY without a config file entry.
	v.SetDefault("unblock.key", "")
	v.SetDefault("extract.key", "")
	v.SetDefault("search.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("unblock.base_url", "https://api.unblock.example.com/v1")
	v.SetDefault("extract.base_url", "http://localhost:8091/v1")
	v.SetDefault("search.base_url", "https://api.search.example.com/v1")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("enrich.target_sources", enrich.DefaultTargetSources)
	v.SetDefault("enrich.denylist", enrich.DefaultDenylist)
	v.SetDefault("enrich.max_results_per_query", 5)
	v.SetDefault("match.similarity_threshold", 0.80)
	v.SetDefault("queue.max_concurrent", 4)

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
