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
	Env       string          `yaml:"env" mapstructure:"env"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	CRM       CRMConfig       `yaml:"crm" mapstructure:"crm"`
	Payments  PaymentsConfig  `yaml:"payments" mapstructure:"payments"`
	Usage     UsageConfig     `yaml:"usage" mapstructure:"usage"`
	Trigger   TriggerConfig   `yaml:"trigger" mapstructure:"trigger"`
	Limiter   LimiterConfig   `yaml:"limiter" mapstructure:"limiter"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CRMConfig holds CRM API credentials.
type CRMConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// PaymentsConfig holds the payments-processor API key.
type PaymentsConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// UsageConfig holds the product-analytics API settings.
type UsageConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// TriggerConfig guards the sync trigger endpoints.
type TriggerConfig struct {
	Secret         string `yaml:"secret" mapstructure:"secret"`
	SchedulerToken string `yaml:"scheduler_token" mapstructure:"scheduler_token"`
}

// LimiterConfig tunes the rate-limited source client.
type LimiterConfig struct {
	MinInterval time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// ScoringConfig configures the health scorer.
type ScoringConfig struct {
	WeightsPath string `yaml:"weights_path" mapstructure:"weights_path"`
}

// SchedulerConfig holds optional cron expressions per source. Empty means
// the source is only synced on demand.
type SchedulerConfig struct {
	CRM      string `yaml:"crm" mapstructure:"crm"`
	Payments string `yaml:"payments" mapstructure:"payments"`
	Usage    string `yaml:"usage" mapstructure:"usage"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty file
// path means the optional ./config.yaml; an explicit path must exist.
func Load(file string) (*Config, error) {
	v := viper.New()

	// Config file
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SUCCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("limiter.min_interval", 150*time.Millisecond)
	v.SetDefault("limiter.max_retries", 3)
	v.SetDefault("crm.base_url", "https://api.hubapi.com")

	// Read config file (optional unless a path was given)
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if file != "" || !notFound {
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
