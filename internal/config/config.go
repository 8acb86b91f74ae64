package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Broker    BrokerConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Sync      SyncConfig
	Logging   LoggingConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis specific configuration. Redis is optional;
// with an empty URL the access token is cached in memory instead.
type RedisConfig struct {
	URL         string
	TokenPrefix string
}

// KafkaConfig holds Kafka specific configuration. Kafka is optional;
// with no brokers configured sync run events are not published.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// BrokerConfig holds broker API specific configuration
type BrokerConfig struct {
	BaseURL        string
	TokenURL       string
	InstrumentsURL string
	APIKey         string
	APISecret      string
	Timeout        time.Duration
}

// RateLimitConfig holds the per-second and per-minute API quotas
type RateLimitConfig struct {
	PerSecond int
	PerMinute int
}

// RetryConfig holds retry specific configuration for broker calls
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SyncConfig holds candle sync specific configuration
type SyncConfig struct {
	EpochStart   string
	ChunkDays    int
	BatchSize    int
	BatchPause   time.Duration
	ReleaseEvery int
	Timezone     string
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Read from environment variables
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")

	// Database defaults
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Redis defaults
	v.SetDefault("redis.tokenPrefix", "broker-token:")

	// Kafka defaults
	v.SetDefault("kafka.topic", "market-data-sync-runs")

	// Broker defaults
	v.SetDefault("broker.timeout", "30s")

	// Rate limit defaults
	v.SetDefault("rateLimit.perSecond", 7)
	v.SetDefault("rateLimit.perMinute", 250)

	// Retry defaults
	v.SetDefault("retry.maxAttempts", 5)
	v.SetDefault("retry.initialBackoff", "1s")
	v.SetDefault("retry.maxBackoff", "10s")

	// Sync defaults
	v.SetDefault("sync.epochStart", "2015-01-01")
	v.SetDefault("sync.chunkDays", 30)
	v.SetDefault("sync.batchSize", 500)
	v.SetDefault("sync.batchPause", "0s")
	v.SetDefault("sync.releaseEvery", 5)
	v.SetDefault("sync.timezone", "Asia/Kolkata")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
