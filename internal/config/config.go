package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Billing  BillingConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Driver string
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
}

type KafkaConfig struct {
	Brokers       []string
	MessagesTopic string
	AlertsTopic   string
	Partitions    int
	// Sarama-specific
	Version       string
	ConsumerGroup string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type WorkerConfig struct {
	ProcessingInterval time.Duration
}

type BillingConfig struct {
	TokensPerCredit      int64
	Currency             string
	LowBalanceThreshold  decimal.Decimal
	ReconcileSchedule    string
	ReconcileBatchSize   int
	ReconcileConcurrency int
	ReconcileLockTTL     time.Duration
}

type LogConfig struct {
	Level string
}

// New builds the configuration from the process environment. A .env file in
// the working directory is loaded first when present.
func New() *Config {
	_ = godotenv.Load() //nolint:errcheck // the file is optional

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", ":8080"),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("POSTGRES_URL"),
			MaxOpenConns: getEnvInt("POSTGRES_MAX_OPEN_CONNS", 20),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			MessagesTopic: getEnv("KAFKA_MESSAGES_TOPIC", "messages.outbound"),
			AlertsTopic:   getEnv("KAFKA_ALERTS_TOPIC", "billing.alerts"),
			Partitions:    getEnvInt("KAFKA_PARTITIONS", 1),
			Version:       os.Getenv("KAFKA_VERSION"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "billing-worker"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Worker: WorkerConfig{
			ProcessingInterval: time.Duration(getEnvInt("WORKER_PROCESSING_INTERVAL", 1)) * time.Second,
		},
		Billing: BillingConfig{
			TokensPerCredit:      int64(getEnvInt("TOKENS_PER_CREDIT", 1000)),
			Currency:             getEnv("BILLING_CURRENCY", "CREDITS"),
			LowBalanceThreshold:  getEnvDecimal("LOW_BALANCE_THRESHOLD", decimal.NewFromInt(100)),
			ReconcileSchedule:    getEnv("RECONCILE_SCHEDULE", "@every 5m"),
			ReconcileBatchSize:   getEnvInt("RECONCILE_BATCH_SIZE", 500),
			ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
			ReconcileLockTTL:     getEnvDuration("RECONCILE_LOCK_TTL", 10*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate rejects configurations the billing pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres storage driver"))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	if c.Billing.TokensPerCredit <= 0 {
		errs = append(errs, errors.New("TOKENS_PER_CREDIT must be greater than 0"))
	}
	if c.Billing.LowBalanceThreshold.IsNegative() {
		errs = append(errs, errors.New("LOW_BALANCE_THRESHOLD must not be negative"))
	}
	if c.Billing.ReconcileBatchSize <= 0 {
		errs = append(errs, errors.New("RECONCILE_BATCH_SIZE must be greater than 0"))
	}
	if c.Billing.ReconcileConcurrency <= 0 {
		errs = append(errs, errors.New("RECONCILE_CONCURRENCY must be greater than 0"))
	}
	if c.Worker.ProcessingInterval <= 0 {
		errs = append(errs, errors.New("WORKER_PROCESSING_INTERVAL must be greater than 0"))
	}

	return errors.Join(errs...)
}

func (k *KafkaConfig) GetSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()

	if k.Version != "" {
		version, err := sarama.ParseKafkaVersion(k.Version)
		if err == nil {
			config.Version = version
		}
	}

	if k.ConsumerGroup != "" {
		config.ClientID = k.ConsumerGroup
	}

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = 2 * time.Minute
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	// Settings for batch processing
	config.Consumer.Fetch.Min = 1
	config.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	config.Consumer.MaxWaitTime = 100 * time.Millisecond

	config.Net.MaxOpenRequests = 5
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
