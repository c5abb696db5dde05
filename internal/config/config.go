// Package config loads the service configuration from YAML files and
// PADCHECK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Aidin1998/padcheck/internal/audit"
	"github.com/Aidin1998/padcheck/internal/instrument/external"
	"github.com/Aidin1998/padcheck/internal/instrument/fuzzy"
)

// EnvPrefix prefixes every environment override, e.g.
// PADCHECK_DATABASE_DSN for database.dsn.
const EnvPrefix = "PADCHECK"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment" validate:"oneof=development staging production test"`

	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Kafka       audit.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	ExternalAPI external.Config   `mapstructure:"external_api" yaml:"external_api"`
	Fuzzy       fuzzy.Config      `mapstructure:"fuzzy" yaml:"fuzzy"`
	Rules       RulesConfig       `mapstructure:"rules" yaml:"rules"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment" yaml:"enrichment"`
	Audit       AuditConfig       `mapstructure:"audit" yaml:"audit"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"required"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	// JWTSecret signs the tokens that guard rule management. Empty
	// disables those endpoints.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	JWTIssuer string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	// RatePerSecond limits evaluation requests per client IP; 0 disables.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
	RateBurst     int     `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn" json:"-" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	SlowQuery       time.Duration `mapstructure:"slow_query" yaml:"slow_query"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Address) != ""
}

type RulesConfig struct {
	// SeedFile is loaded into the store when it holds no rule set yet.
	SeedFile string        `mapstructure:"seed_file" yaml:"seed_file"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
	// Channel is the Redis pub/sub channel carrying invalidations.
	Channel string `mapstructure:"channel" yaml:"channel"`
}

type EnrichmentConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"required"`
}

type AuditConfig struct {
	// Log writes every decision to the service log.
	Log bool `mapstructure:"log" yaml:"log"`
	// Store persists every decision to the database.
	Store bool `mapstructure:"store" yaml:"store"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	ext := external.DefaultConfig()
	fz := fuzzy.DefaultConfig()

	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_issuer", "padcheck")
	v.SetDefault("server.rate_per_second", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:padcheck.db?_foreign_keys=on")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.slow_query", 500*time.Millisecond)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "padcheck.decisions")
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.required_acks", -1)
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("external_api.base_url", ext.BaseURL)
	v.SetDefault("external_api.token", ext.Token)
	v.SetDefault("external_api.timeout", ext.Timeout)
	v.SetDefault("external_api.rate_per_second", ext.RatePerSecond)
	v.SetDefault("external_api.burst", ext.Burst)
	v.SetDefault("external_api.cache_ttl", ext.CacheTTL)
	v.SetDefault("external_api.negative_ttl", ext.NegativeTTL)
	v.SetDefault("external_api.user_agent", ext.UserAgent)
	v.SetDefault("external_api.max_body_bytes", ext.MaxBodyBytes)
	v.SetDefault("external_api.badger_cache_dir", ext.BadgerCacheDir)

	v.SetDefault("fuzzy.floor", fz.Floor)
	v.SetDefault("fuzzy.max_results", fz.MaxResults)
	v.SetDefault("fuzzy.refresh_interval", fz.RefreshInterval)
	v.SetDefault("fuzzy.load_timeout", fz.LoadTimeout)

	v.SetDefault("rules.seed_file", "")
	v.SetDefault("rules.cache_ttl", time.Minute)
	v.SetDefault("rules.channel", "padcheck:rules:invalidate")

	v.SetDefault("enrichment.timeout", 3*time.Second)

	v.SetDefault("audit.log", true)
	v.SetDefault("audit.store", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "padcheck")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper, validate *validator.Validate) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns && cfg.Database.MaxOpenConns > 0 {
		return nil, fmt.Errorf("%w: max_idle_conns exceeds max_open_conns", ErrInvalidConfig)
	}
	return &cfg, nil
}
