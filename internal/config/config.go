// Package config loads service settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

type Config struct {
	Port           string
	ServiceVersion string

	PostgresURL string

	KafkaBrokers      []string
	OrderCreatedTopic string
	OrderUpdatedTopic string
	NotifyQueueSize   int

	RedisAddr      string
	IdempotencyTTL time.Duration

	StrictTransitions bool
	RestockOnCancel   bool

	EmailServiceURL string
}

// Load reads the environment. A missing .env file is not an error; malformed
// values are. Required settings are checked by each binary.
func Load(defaultPort string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              getenv("PORT", defaultPort),
		ServiceVersion:    getenv("SERVICE_VERSION", "0.1.0"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		OrderCreatedTopic: getenv("ORDER_CREATED_TOPIC", domain.ChannelOrderCreated),
		OrderUpdatedTopic: getenv("ORDER_UPDATED_TOPIC", domain.ChannelOrderUpdated),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		EmailServiceURL:   strings.TrimRight(os.Getenv("EMAIL_SERVICE_URL"), "/"),
	}

	var err error
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize <= 0 {
		return Config{}, fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", cfg.NotifyQueueSize)
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.StrictTransitions, err = getBool("ORDER_STRICT_TRANSITIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.RestockOnCancel, err = getBool("ORDER_RESTOCK_ON_CANCEL", false); err != nil {
		return Config{}, err
	}
	if cfg.RestockOnCancel && !cfg.StrictTransitions {
		return Config{}, fmt.Errorf("ORDER_RESTOCK_ON_CANCEL requires ORDER_STRICT_TRANSITIONS")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
