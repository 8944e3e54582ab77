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
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GoogleConfig holds Places API settings.
type GoogleConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DiscoveryConfig configures nearby-place discovery.
type DiscoveryConfig struct {
	RadiusMeters   int    `yaml:"radius_meters" mapstructure:"radius_meters"`
	DefaultLimit   int    `yaml:"default_limit" mapstructure:"default_limit"`
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MinReviewCount int    `yaml:"min_review_count" mapstructure:"min_review_count"`
	CategoriesFile string `yaml:"categories_file" mapstructure:"categories_file"`
}

// CacheConfig configures the in-process discovery cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the cache time-to-live as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// RedisConfig configures the optional shared cache tier. An empty Addr disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// CircuitConfig configures the upstream circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the background checker that sweeps expired
// cache entries and raises webhook alerts.
type MonitoringConfig struct {
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	HitRateThreshold  float64 `yaml:"hit_rate_threshold" mapstructure:"hit_rate_threshold"`
	MinLookups        int     `yaml:"min_lookups" mapstructure:"min_lookups"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitPerMin    int      `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// RequestTimeout returns the per-request deadline as a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
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
	v.SetEnvPrefix("PLACESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("google.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("google.api_key", "")
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("discovery.radius_meters", 1500)
	v.SetDefault("discovery.default_limit", 10)
	v.SetDefault("discovery.max_concurrency", 11)
	v.SetDefault("discovery.min_review_count", 10)
	v.SetDefault("discovery.categories_file", "")
	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "placescout:")
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.hit_rate_threshold", 0)
	v.SetDefault("monitoring.min_lookups", 50)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.request_timeout_secs", 30)
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

// Validate checks the configuration for the given run mode ("serve" or
// "query"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server.rate_limit_per_min must be >= 0")
		}
		if c.Server.RequestTimeoutSecs <= 0 {
			errs = append(errs, "server.request_timeout_secs must be > 0")
		}
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Discovery.RadiusMeters < 100 || c.Discovery.RadiusMeters > 50000 {
		errs = append(errs, "discovery.radius_meters must be between 100 and 50000")
	}
	if c.Discovery.DefaultLimit < 0 {
		errs = append(errs, "discovery.default_limit must be >= 0")
	}
	if c.Discovery.MaxConcurrency < 1 || c.Discovery.MaxConcurrency > 32 {
		errs = append(errs, "discovery.max_concurrency must be between 1 and 32")
	}
	if c.Discovery.MinReviewCount < 0 {
		errs = append(errs, "discovery.min_review_count must be >= 0")
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, "cache.max_entries must be > 0")
	}
	if c.Cache.TTLSecs <= 0 {
		errs = append(errs, "cache.ttl_secs must be > 0")
	}
	if c.Monitoring.HitRateThreshold < 0 || c.Monitoring.HitRateThreshold > 1 {
		errs = append(errs, "monitoring.hit_rate_threshold must be between 0 and 1")
	}
	if c.Google.RateLimit <= 0 {
		errs = append(errs, "google.rate_limit must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
