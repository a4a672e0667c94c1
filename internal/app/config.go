package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Convene backend.
type Config struct {
	Server     ServerConfig                      `mapstructure:"server"`
	Database   DatabaseConfig                    `mapstructure:"database"`
	Cache      CacheConfig                       `mapstructure:"cache"`
	Monitoring MonitoringConfig                  `mapstructure:"monitoring"`
	Auth       AuthConfig                        `mapstructure:"auth"`
	Privacy    PrivacyConfig                     `mapstructure:"privacy"`
	Email      EmailConfig                       `mapstructure:"email"`
	SMS        SMSConfig                         `mapstructure:"sms"`
	Bus        BusConfig                         `mapstructure:"bus"`
	Lifecycle  LifecycleConfig                   `mapstructure:"lifecycle"`
	Quota      map[string]map[string]QuotaConfig `mapstructure:"quota"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds API requests per caller within a fixed window. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver    string        `mapstructure:"driver"`
	Path      string        `mapstructure:"path"`
	DSN       string        `mapstructure:"dsn"`
	SlowQuery time.Duration `mapstructure:"slow_query"`
	Postgres  DBAuthConfig  `mapstructure:"postgres"`
	MySQL     DBAuthConfig  `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures bearer token settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// PrivacyConfig holds the master key contacts are encrypted with.
type PrivacyConfig struct {
	ContactKey string `mapstructure:"contact_key"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig points at an HTTP SMS gateway.
type SMSConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	GatewayURL string        `mapstructure:"gateway_url"`
	Token      string        `mapstructure:"token"`
	Sender     string        `mapstructure:"sender"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BusConfig selects the notification bus driver.
type BusConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
	Subject  string `mapstructure:"subject"`
}

// LifecycleConfig tunes offers, reconfirmation and the maintenance sweep.
type LifecycleConfig struct {
	OfferWindow     time.Duration `mapstructure:"offer_window"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	ReconfirmWindow time.Duration `mapstructure:"reconfirm_window"`
	SweepSchedule   string        `mapstructure:"sweep_schedule"`
	SweepThrottle   time.Duration `mapstructure:"sweep_throttle"`
}

// QuotaConfig caps sends for one channel and scope type. Zero means unlimited.
type QuotaConfig struct {
	Daily int `mapstructure:"daily"`
	Total int `mapstructure:"total"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("CONVENE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/convene.sqlite")
	v.SetDefault("database.slow_query", "200ms")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "convene")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("privacy.contact_key", "")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.timeout", "10s")

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.exchange", "convene.events")
	v.SetDefault("bus.queue", "convene.notifications")
	v.SetDefault("bus.subject", "convene.notifications")

	v.SetDefault("lifecycle.offer_window", "24h")
	v.SetDefault("lifecycle.default_duration", "3h")
	v.SetDefault("lifecycle.reconfirm_window", "0s")
	v.SetDefault("lifecycle.sweep_schedule", "@every 5m")
	v.SetDefault("lifecycle.sweep_throttle", "30s")

	v.SetDefault("quota.email.organizer.daily", 500)
	v.SetDefault("quota.sms.organizer.daily", 100)
	v.SetDefault("quota.sms.event.total", 1000)
	v.SetDefault("quota.invite.organizer.daily", 500)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
