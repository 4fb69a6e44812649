/*
Package config loads service configuration.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. YAML file (optional; a missing file is not an error)
  3. Environment variables
  4. Command-line flags (applied by cmd/server)

EXAMPLE FILE:
  service:
    http_port: 3001
  fees:
    rate: "0.10"
  storage:
    driver: sqlite
    sqlite_path: ./payments.db
  gateway:
    driver: simulated
    failure_rate: 0.15
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payment-engine/settlement"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	DedupStore = "store"
	DedupRedis = "redis"

	GatewaySimulated = "simulated"
	GatewayStripe    = "stripe"
)

type Config struct {
	HTTPPort int

	FeeRate decimal.Decimal

	StorageDriver string
	SQLitePath    string

	DedupDriver string
	RedisURL    string
	DedupTTL    time.Duration

	GatewayDriver       string
	FailureRate         float64
	GatewaySeed         int64
	StripeSecretKey     string
	StripeBaseURL       string
	StripeWebhookSecret string

	KafkaBrokers  []string
	KafkaGroup    string
	KafkaTopic    string
	KafkaDLQTopic string

	ReconciliationEnabled    bool
	ReconciliationInterval   time.Duration
	ReconciliationAutoRepair bool

	LogLevel       string
	LogDevelopment bool
}

type configFile struct {
	Service struct {
		HTTPPort int `yaml:"http_port"`
	} `yaml:"service"`
	Fees struct {
		Rate string `yaml:"rate"`
	} `yaml:"fees"`
	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Dedup struct {
		Driver   string `yaml:"driver"`
		RedisURL string `yaml:"redis_url"`
		TTL      string `yaml:"ttl"`
	} `yaml:"dedup"`
	Gateway struct {
		Driver          string   `yaml:"driver"`
		FailureRate     *float64 `yaml:"failure_rate"`
		Seed            int64    `yaml:"seed"`
		StripeSecretKey string   `yaml:"stripe_secret_key"`
		StripeBaseURL   string   `yaml:"stripe_base_url"`
		WebhookSecret   string   `yaml:"webhook_secret"`
	} `yaml:"gateway"`
	Kafka struct {
		Brokers  []string `yaml:"brokers"`
		Group    string   `yaml:"group"`
		Topic    string   `yaml:"topic"`
		DLQTopic string   `yaml:"dlq_topic"`
	} `yaml:"kafka"`
	Reconciliation struct {
		Enabled    *bool  `yaml:"enabled"`
		Interval   string `yaml:"interval"`
		AutoRepair bool   `yaml:"auto_repair"`
	} `yaml:"reconciliation"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPPort:               3001,
		FeeRate:                settlement.DefaultFeeRate,
		StorageDriver:          StorageMemory,
		SQLitePath:             "payments.db",
		DedupDriver:            DedupStore,
		DedupTTL:               7 * 24 * time.Hour,
		GatewayDriver:          GatewaySimulated,
		FailureRate:            0.15,
		KafkaGroup:             "payment-engine",
		KafkaTopic:             "payments.provider-events",
		KafkaDLQTopic:          "payments.provider-events.dlq",
		ReconciliationEnabled:  true,
		ReconciliationInterval: time.Hour,
		LogLevel:               "info",
	}
}

// Load reads path (if it exists) and the environment on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Fees.Rate != "" {
		rate, err := settlement.ParseFeeRate(f.Fees.Rate)
		if err != nil {
			return fmt.Errorf("fees.rate: %w", err)
		}
		cfg.FeeRate = rate
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Storage.SQLitePath != "" {
		cfg.SQLitePath = f.Storage.SQLitePath
	}
	if f.Dedup.Driver != "" {
		cfg.DedupDriver = f.Dedup.Driver
	}
	if f.Dedup.RedisURL != "" {
		cfg.RedisURL = f.Dedup.RedisURL
	}
	if f.Dedup.TTL != "" {
		ttl, err := time.ParseDuration(f.Dedup.TTL)
		if err != nil {
			return fmt.Errorf("dedup.ttl: %w", err)
		}
		cfg.DedupTTL = ttl
	}
	if f.Gateway.Driver != "" {
		cfg.GatewayDriver = f.Gateway.Driver
	}
	if f.Gateway.FailureRate != nil {
		cfg.FailureRate = *f.Gateway.FailureRate
	}
	if f.Gateway.Seed != 0 {
		cfg.GatewaySeed = f.Gateway.Seed
	}
	if f.Gateway.StripeSecretKey != "" {
		cfg.StripeSecretKey = f.Gateway.StripeSecretKey
	}
	if f.Gateway.StripeBaseURL != "" {
		cfg.StripeBaseURL = f.Gateway.StripeBaseURL
	}
	if f.Gateway.WebhookSecret != "" {
		cfg.StripeWebhookSecret = f.Gateway.WebhookSecret
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Kafka.Brokers)
	}
	if f.Kafka.Group != "" {
		cfg.KafkaGroup = f.Kafka.Group
	}
	if f.Kafka.Topic != "" {
		cfg.KafkaTopic = f.Kafka.Topic
	}
	if f.Kafka.DLQTopic != "" {
		cfg.KafkaDLQTopic = f.Kafka.DLQTopic
	}
	if f.Reconciliation.Enabled != nil {
		cfg.ReconciliationEnabled = *f.Reconciliation.Enabled
	}
	if f.Reconciliation.Interval != "" {
		d, err := time.ParseDuration(f.Reconciliation.Interval)
		if err != nil {
			return fmt.Errorf("reconciliation.interval: %w", err)
		}
		cfg.ReconciliationInterval = d
	}
	if f.Reconciliation.AutoRepair {
		cfg.ReconciliationAutoRepair = true
	}
	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}
	if f.Log.Development {
		cfg.LogDevelopment = true
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	if cfg.HTTPPort, err = envInt("HTTP_PORT", cfg.HTTPPort); err != nil {
		return err
	}
	if v := os.Getenv("PLATFORM_FEE_RATE"); v != "" {
		rate, err := settlement.ParseFeeRate(v)
		if err != nil {
			return fmt.Errorf("PLATFORM_FEE_RATE: %w", err)
		}
		cfg.FeeRate = rate
	}
	cfg.StorageDriver = envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)
	cfg.SQLitePath = envOrDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.DedupDriver = envOrDefault("DEDUP_DRIVER", cfg.DedupDriver)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	if cfg.DedupTTL, err = envDuration("DEDUP_TTL", cfg.DedupTTL); err != nil {
		return err
	}
	cfg.GatewayDriver = envOrDefault("GATEWAY_DRIVER", cfg.GatewayDriver)
	if v := os.Getenv("GATEWAY_FAILURE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GATEWAY_FAILURE_RATE: %w", err)
		}
		cfg.FailureRate = f
	}
	if v := os.Getenv("GATEWAY_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GATEWAY_SEED: %w", err)
		}
		cfg.GatewaySeed = seed
	}
	cfg.StripeSecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	cfg.StripeBaseURL = envOrDefault("STRIPE_BASE_URL", cfg.StripeBaseURL)
	cfg.StripeWebhookSecret = envOrDefault("STRIPE_WEBHOOK_SECRET", cfg.StripeWebhookSecret)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaGroup)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC_PROVIDER_EVENTS", cfg.KafkaTopic)
	cfg.KafkaDLQTopic = envOrDefault("KAFKA_TOPIC_DLQ", cfg.KafkaDLQTopic)
	if v := os.Getenv("RECONCILIATION_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RECONCILIATION_ENABLED: %w", err)
		}
		cfg.ReconciliationEnabled = b
	}
	if cfg.ReconciliationInterval, err = envDuration("RECONCILIATION_INTERVAL", cfg.ReconciliationInterval); err != nil {
		return err
	}
	if v := os.Getenv("RECONCILIATION_AUTO_REPAIR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RECONCILIATION_AUTO_REPAIR: %w", err)
		}
		cfg.ReconciliationAutoRepair = b
	}
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	}
	if err := settlement.ValidateFeeRate(c.FeeRate); err != nil {
		return err
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("gateway failure rate %v outside [0, 1]", c.FailureRate)
	}
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.DedupDriver {
	case DedupStore:
	case DedupRedis:
		if c.RedisURL == "" {
			return errors.New("dedup driver redis requires a redis url")
		}
	default:
		return fmt.Errorf("unknown dedup driver %q", c.DedupDriver)
	}
	switch c.GatewayDriver {
	case GatewaySimulated:
	case GatewayStripe:
		if c.StripeSecretKey == "" {
			return errors.New("gateway driver stripe requires a secret key")
		}
	default:
		return fmt.Errorf("unknown gateway driver %q", c.GatewayDriver)
	}
	if c.ReconciliationEnabled && c.ReconciliationInterval <= 0 {
		return errors.New("reconciliation interval must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envCSV(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(v, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
