package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/roadside-api/internal/realtime"
	"github.com/jwalitptl/roadside-api/internal/repository/sqldb"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/messaging/redis"
	"github.com/jwalitptl/roadside-api/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. ROADSIDE_DATABASE_HOST.
const EnvPrefix = "roadside"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit" split_words:"true"`
	Directory     DirectoryConfig     `mapstructure:"directory"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" split_words:"true"`
	// RunOutbox runs the outbox processor inside the API process.
	RunOutbox bool `mapstructure:"run_outbox" split_words:"true"`
	// HealthPort is used by cmd/worker only.
	HealthPort int `mapstructure:"health_port" split_words:"true"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
	Migrate  bool   `mapstructure:"migrate"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
	// Mode is "pubsub" or "stream".
	Mode         string `mapstructure:"mode"`
	StreamMaxLen int64  `mapstructure:"stream_max_len" split_words:"true"`
}

type RealtimeConfig struct {
	PushTimeout    time.Duration `mapstructure:"push_timeout" split_words:"true"`
	WriteWait      time.Duration `mapstructure:"write_wait" split_words:"true"`
	PongWait       time.Duration `mapstructure:"pong_wait" split_words:"true"`
	PingPeriod     time.Duration `mapstructure:"ping_period" split_words:"true"`
	MaxMessageSize int64         `mapstructure:"max_message_size" split_words:"true"`
	SendBuffer     int           `mapstructure:"send_buffer" split_words:"true"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval  time.Duration `mapstructure:"poll_interval" split_words:"true"`
	RetryAttempts int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" split_words:"true"`
	MaxRetries    int           `mapstructure:"max_retries" split_words:"true"`
	Retention     time.Duration `mapstructure:"retention"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst"`
}

type DirectoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" split_words:"true"`
}

type NotificationsConfig struct {
	ListLimit int `mapstructure:"list_limit" split_words:"true"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" split_words:"true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	rt := realtime.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.driver", sqldb.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.name", "roadside")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "roadside.events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.mode", redis.ModePubSub)
	v.SetDefault("redis.stream_max_len", 100000)

	v.SetDefault("realtime.push_timeout", 2*time.Second)
	v.SetDefault("realtime.write_wait", rt.WriteWait)
	v.SetDefault("realtime.pong_wait", rt.PongWait)
	v.SetDefault("realtime.ping_period", rt.PingPeriod)
	v.SetDefault("realtime.max_message_size", rt.MaxMessageSize)
	v.SetDefault("realtime.send_buffer", rt.SendBuffer)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 100)
	v.SetDefault("rate_limit.burst", 200)

	v.SetDefault("directory.cache_ttl", 30*time.Second)
	v.SetDefault("notifications.list_limit", 200)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads config.yml from the usual locations, falls back to
// defaults when no file exists, then applies ROADSIDE_* environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")           // current directory
	v.AddConfigPath("./config")    // config subdirectory
	v.AddConfigPath("/app")        // container root directory
	v.AddConfigPath("/app/config") // container config directory
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Realtime.PingPeriod >= c.Realtime.PongWait {
		return fmt.Errorf("realtime.ping_period must be shorter than realtime.pong_wait")
	}
	switch c.Redis.Mode {
	case redis.ModePubSub, redis.ModeStream:
	default:
		return fmt.Errorf("unsupported redis.mode %q", c.Redis.Mode)
	}
	switch strings.ToLower(c.Database.Driver) {
	case sqldb.DriverPostgres, sqldb.DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

func (c *DatabaseConfig) ToDBConfig() sqldb.Config {
	return sqldb.Config{
		Driver:   strings.ToLower(c.Driver),
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
		Path:     c.Path,
		Migrate:  c.Migrate,
	}
}

func (c *JWTConfig) ToAuthConfig() auth.Config {
	return auth.Config{Secret: c.Secret, Issuer: c.Issuer}
}

func (c *RealtimeConfig) ToClientConfig() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.WriteWait = c.WriteWait
	cfg.PongWait = c.PongWait
	cfg.PingPeriod = c.PingPeriod
	cfg.MaxMessageSize = c.MaxMessageSize
	cfg.SendBuffer = c.SendBuffer
	return cfg
}

func (c *OutboxConfig) ToWorkerConfig(channel string) worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxRetries:    c.MaxRetries,
		Retention:     c.Retention,
		Channel:       channel,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		Mode:         c.Mode,
		StreamMaxLen: c.StreamMaxLen,
	}
}

func (c *LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Level),
		Format:     c.Format,
		TimeFormat: time.RFC3339,
	}
}
