package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// devJWTSecret is only used when ENV=development and JWT_SECRET is unset.
const devJWTSecret = "aidmate-development-secret-do-not-use-in-production"

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL      string        `mapstructure:"REDIS_URL"`
	StatsCacheTTL time.Duration `mapstructure:"STATS_CACHE_TTL"`

	JWTSecret   string        `mapstructure:"JWT_SECRET"`
	JWTIssuer   string        `mapstructure:"JWT_ISSUER"`
	JWTAudience string        `mapstructure:"JWT_AUDIENCE"`
	TokenTTL    time.Duration `mapstructure:"TOKEN_TTL"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	MQTTBrokerURL   string        `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID    string        `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername    string        `mapstructure:"MQTT_USERNAME"`
	MQTTPassword    string        `mapstructure:"MQTT_PASSWORD"`
	MQTTTopicPrefix string        `mapstructure:"MQTT_TOPIC_PREFIX"`
	NotifyTimeout   time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	GeminiAPIKey  string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel   string        `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL string        `mapstructure:"GEMINI_BASE_URL"`
	GeminiTimeout time.Duration `mapstructure:"GEMINI_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "STATS_CACHE_TTL",
	"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE", "TOKEN_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"MQTT_BROKER_URL", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC_PREFIX", "NOTIFY_TIMEOUT",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "GEMINI_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("STATS_CACHE_TTL", "30s")
	v.SetDefault("JWT_ISSUER", "aidmate")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MQTT_CLIENT_ID", "aidmate-dispatch")
	v.SetDefault("MQTT_TOPIC_PREFIX", "aidmate")
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("GEMINI_TIMEOUT", "30s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		log.Warn().Msg("JWT_SECRET is not set; using the built-in development secret. Do NOT use this configuration in production.")
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NotificationsEnabled reports whether an MQTT broker is configured.
func (c *Config) NotificationsEnabled() bool {
	return c.MQTTBrokerURL != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (ENV=%q)", c.Env)
	}
	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters outside development, got %d", len(c.JWTSecret))
	}
	if !c.IsDev() && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must not be the development secret outside development")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.StatsCacheTTL < 0 {
		return fmt.Errorf("STATS_CACHE_TTL must not be negative")
	}
	return nil
}
