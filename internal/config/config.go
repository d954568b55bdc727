package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Security SecurityConfig `mapstructure:"security"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" envconfig:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" envconfig:"DB_HOST"`
	Port     int    `mapstructure:"port" envconfig:"DB_PORT"`
	User     string `mapstructure:"user" envconfig:"DB_USER"`
	Password string `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Name     string `mapstructure:"name" envconfig:"DB_NAME"`
	SSLMode  string `mapstructure:"sslmode" envconfig:"DB_SSLMODE"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" envconfig:"REDIS_URL"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"SMTP_HOST"`
	Port     int    `mapstructure:"port" envconfig:"SMTP_PORT"`
	Username string `mapstructure:"username" envconfig:"SMTP_USERNAME"`
	Password string `mapstructure:"password" envconfig:"SMTP_PASSWORD"`
	From     string `mapstructure:"from" envconfig:"SMTP_FROM"`
}

type SecurityConfig struct {
	// EncryptionSecret and EncryptionSalt derive the AES key protecting
	// connection credentials at rest.
	EncryptionSecret string `mapstructure:"encryption_secret" envconfig:"ENCRYPTION_SECRET"`
	EncryptionSalt   string `mapstructure:"encryption_salt" envconfig:"ENCRYPTION_SALT"`
}

// EngineConfig holds the delivery-engine knobs.
type EngineConfig struct {
	// CheckInterval is the scheduler period; it also sets the due-record
	// cutoff and the wall-clock budget of one pass.
	CheckInterval time.Duration `mapstructure:"check_interval"`
	// LockTTL bounds how long a crashed worker can hold a record lock.
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	MinRetryWait    time.Duration `mapstructure:"min_retry_wait"`
	MaxRetryWait    time.Duration `mapstructure:"max_retry_wait"`
	PostTimeout     time.Duration `mapstructure:"post_timeout"`
	FailureCacheTTL time.Duration `mapstructure:"failure_cache_ttl"`
	BatchSize       int           `mapstructure:"batch_size"`
	// MaxOverallTries is the automatic-cancellation ceiling, unless a
	// repeater overrides it.
	MaxOverallTries int `mapstructure:"max_overall_tries"`
	// RecordRetention bounds how long terminal records are kept before the
	// cleanup pass deletes them.
	RecordRetention time.Duration `mapstructure:"record_retention"`
	// DeliveriesPerSecond caps delivery attempts per domain in each worker.
	DeliveriesPerSecond float64 `mapstructure:"deliveries_per_second"`
}

// Defaults applied when the config file leaves engine knobs unset.
const (
	DefaultCheckInterval   = 5 * time.Minute
	DefaultLockTTL         = 2 * time.Minute
	DefaultMinRetryWait    = 60 * time.Minute
	DefaultMaxRetryWait    = 72 * time.Hour
	DefaultPostTimeout     = 45 * time.Second
	DefaultFailureCacheTTL = 60 * time.Minute
	DefaultBatchSize       = 100
	DefaultMaxOverallTries = 6
	DefaultRecordRetention = 42 * 24 * time.Hour
)

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Environment variables win over the file.
	if err := envconfig.Process("forwarder", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}

	config.Engine.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (e *EngineConfig) applyDefaults() {
	if e.CheckInterval <= 0 {
		e.CheckInterval = DefaultCheckInterval
	}
	if e.LockTTL <= 0 {
		e.LockTTL = DefaultLockTTL
	}
	if e.MinRetryWait <= 0 {
		e.MinRetryWait = DefaultMinRetryWait
	}
	if e.MaxRetryWait <= 0 {
		e.MaxRetryWait = DefaultMaxRetryWait
	}
	if e.PostTimeout <= 0 {
		e.PostTimeout = DefaultPostTimeout
	}
	if e.FailureCacheTTL <= 0 {
		e.FailureCacheTTL = DefaultFailureCacheTTL
	}
	if e.BatchSize <= 0 {
		e.BatchSize = DefaultBatchSize
	}
	if e.MaxOverallTries <= 0 {
		e.MaxOverallTries = DefaultMaxOverallTries
	}
	if e.RecordRetention <= 0 {
		e.RecordRetention = DefaultRecordRetention
	}
}

func (c *Config) validate() error {
	if c.Engine.MinRetryWait > c.Engine.MaxRetryWait {
		return fmt.Errorf("min_retry_wait %s exceeds max_retry_wait %s", c.Engine.MinRetryWait, c.Engine.MaxRetryWait)
	}
	if c.Security.EncryptionSecret == "" {
		return fmt.Errorf("security.encryption_secret is required")
	}
	return nil
}
