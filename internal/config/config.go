package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging/redis"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. NOTIFY_SERVER_PORT.
const EnvPrefix = "NOTIFY"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Counter       CounterConfig       `mapstructure:"counter"`
	Pagination    PaginationConfig    `mapstructure:"pagination"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Render        RenderConfig        `mapstructure:"render"`
	SMTP          SMTPConfig          `mapstructure:"smtp"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the storage driver. Driver is "postgres" or
// "sqlite"; DSN wins over the discrete postgres fields when set.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig configures the change broker. With an empty URL the API
// applies changes to the counters directly from its outbox.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	MaxLen       int64         `mapstructure:"max_len"`
	BatchSize    int64         `mapstructure:"batch_size"`
	Block        time.Duration `mapstructure:"block"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Retention     time.Duration `mapstructure:"retention"`
}

type NotificationsConfig struct {
	// Fields lists the caller extension fields copied onto new notifications.
	Fields          []string      `mapstructure:"fields"`
	EmailDelay      time.Duration `mapstructure:"email_delay"`
	EmailCheckDelay time.Duration `mapstructure:"email_check_delay"`
	Languages       []string      `mapstructure:"languages"`
	Subject         string        `mapstructure:"subject"`
}

type CounterConfig struct {
	DisplayFields []string `mapstructure:"display_fields"`
	Workers       int      `mapstructure:"workers"`
}

type PaginationConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type IdentityConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RenderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Types   []string      `mapstructure:"types"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// secrets are read straight from the environment and never from the
// config file.
type secrets struct {
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	DatabaseDSN  string `envconfig:"DATABASE_DSN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "notifications.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.group", "notification-service")
	v.SetDefault("redis.max_len", 100000)
	v.SetDefault("redis.batch_size", 50)
	v.SetDefault("redis.block", 2*time.Second)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 500*time.Millisecond)
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", 2*time.Second)
	v.SetDefault("outbox.retention", 24*time.Hour)

	v.SetDefault("notifications.fields", []string{"severity", "scan", "link"})
	v.SetDefault("notifications.email_delay", 5*time.Minute)
	v.SetDefault("notifications.email_check_delay", 10*time.Second)
	v.SetDefault("notifications.languages", []string{"en"})

	v.SetDefault("counter.display_fields", []string{"severity", "scan"})
	v.SetDefault("counter.workers", 4)

	v.SetDefault("pagination.default_limit", 100)
	v.SetDefault("pagination.max_limit", 1000)

	v.SetDefault("identity.cache_ttl", 5*time.Minute)
	v.SetDefault("identity.timeout", 5*time.Second)
	v.SetDefault("render.timeout", 10*time.Second)

	v.SetDefault("smtp.port", 587)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from the usual locations, applies NOTIFY_*
// environment overrides and finally the secret variables. A missing config
// file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	if s.SMTPPassword != "" {
		cfg.SMTP.Password = s.SMTPPassword
	}
	if s.JWTSecret != "" {
		cfg.JWT.Secret = s.JWTSecret
	}
	if s.DatabaseDSN != "" {
		cfg.Database.DSN = s.DatabaseDSN
	}

	return &cfg, nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		Retention:     c.Retention,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		Group:        c.Group,
		Consumer:     c.Consumer,
		MaxLen:       c.MaxLen,
		BatchSize:    c.BatchSize,
		Block:        c.Block,
	}
}

func (c *LogConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Level,
		Pretty: c.Pretty,
	}
}
