package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL        string `validate:"required,url"`
	APIKey         string `validate:"required"`
	PollIntervalMS int    `validate:"gte=0"`
	MaxWaitMS      int    `validate:"gte=0"`
	RedisURL       string
	KafkaBrokers   string
	JaegerEndpoint string
	MetricsPort    string `validate:"omitempty,numeric"`
	LogLevel       string `validate:"omitempty,oneof=debug info warn error"`
}

// PollInterval is the configured interval; zero means the client default
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// MaxWait is the configured deadline; zero means the client default
func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMS) * time.Millisecond
}

// Load reads an optional .env file, then the environment
func Load() (*Config, error) {
	// a missing .env is fine; real env vars take precedence
	_ = godotenv.Load()

	pollInterval, err := intEnv("AGENTPAY_POLL_INTERVAL_MS", 5000)
	if err != nil {
		return nil, err
	}
	maxWait, err := intEnv("AGENTPAY_MAX_WAIT_MS", 30*60*1000)
	if err != nil {
		return nil, err
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	cfg := &Config{
		BaseURL:        os.Getenv("AGENTPAY_BASE_URL"),
		APIKey:         os.Getenv("AGENTPAY_API_KEY"),
		PollIntervalMS: pollInterval,
		MaxWaitMS:      maxWait,
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		MetricsPort:    os.Getenv("METRICS_PORT"),
		LogLevel:       logLevel,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return v, nil
}
