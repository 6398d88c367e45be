package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Service configuration constants
const (
	ServiceName    = "flash-sale-service"
	ServiceVersion = "0.1.0"
)

// Kafka configuration constants
const (
	PlaceOrderTaskTopic    = "PlaceOrderTask"
	PlaceOrderHandledTopic = "PlaceOrderTaskHandled"
	GroupID                = "flash-sale-order-workers"
	BatchTimeout           = 10 * time.Millisecond
	BatchSize              = 100
)

// Order task constants
const (
	// ResultCacheTTL bounds how long a task's order id stays pollable.
	ResultCacheTTL = 24 * time.Hour
	// SubmitTimeout bounds the synchronous part of PlaceOrder.
	SubmitTimeout = 3 * time.Second
	// StaleTaskAge is how long a task may sit PENDING before it is republished.
	StaleTaskAge     = 2 * time.Minute
	RequeueInterval  = 30 * time.Second
	RequeueBatchSize = 100
)

// OpenTelemetry configuration constants
const (
	LogsPath      = "/otlp/v1/logs"   // Grafana Cloud OTLP path
	TracesPath    = "/otlp/v1/traces" // Grafana Cloud OTLP path
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Stock backends
const (
	StockBackendRedis  = "redis"
	StockBackendMemory = "memory"
)

// Config holds environment-specific configuration
type Config struct {
	KafkaBroker    string
	DatabaseURL    string
	RedisURL       string
	TaskIDSecret   string
	WorkerID       int64
	StockBackend   string
	MetricsAddr    string
	OtelEndpoint   string
	OtelAuthHeader string
}

// LoadConfig loads configuration from environment variables with validation
func LoadConfig() (*Config, error) {
	workerID, err := parseIntEnv("WORKER_ID", 1)
	if err != nil {
		return nil, err
	}

	config := &Config{
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		TaskIDSecret:   os.Getenv("TASK_ID_SECRET"),
		WorkerID:       workerID,
		StockBackend:   strings.ToLower(getEnvOrDefault("STOCK_BACKEND", StockBackendRedis)),
		MetricsAddr:    getEnvOrDefault("METRICS_ADDR", ":9102"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that all required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.KafkaBroker == "" {
		return fmt.Errorf("KAFKA_BROKER environment variable is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if c.TaskIDSecret == "" {
		return fmt.Errorf("TASK_ID_SECRET environment variable is required")
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return fmt.Errorf("WORKER_ID must be between 0 and 1023, got %d", c.WorkerID)
	}
	switch c.StockBackend {
	case StockBackendRedis, StockBackendMemory:
	default:
		return fmt.Errorf("STOCK_BACKEND must be %q or %q, got %q", StockBackendRedis, StockBackendMemory, c.StockBackend)
	}
	// The auth header only makes sense together with an endpoint.
	if c.OtelAuthHeader != "" && c.OtelEndpoint == "" {
		return fmt.Errorf("OTEL_AUTH_HEADER is set but OTEL_ENDPOINT is empty")
	}
	return nil
}

// TracingEnabled reports whether OTLP exporters should be configured.
func (c *Config) TracingEnabled() bool {
	return c.OtelEndpoint != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}
