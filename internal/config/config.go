package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the alert engine and its tools.
type Config struct {
	// Service name
	ServiceName string

	// HTTP server port (health endpoints and WebSocket upgrade)
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Optional rotating log file path
	LogFile string

	// Kafka brokers (comma-separated)
	KafkaBrokers string

	// Kafka topic carrying normalized market ticks
	TickTopic string

	// Kafka consumer group for the tick consumer
	ConsumerGroup string

	// SQLite database path for alert events and rules
	DBPath string

	// Rule cache refresh interval
	RuleRefreshInterval time.Duration

	// Evaluation queue capacity
	QueueCapacity int

	// Backpressure policy: drop_oldest or block
	QueuePolicy string

	// Producer wait bound under the block policy
	EnqueueTimeout time.Duration

	// Max ticks drained per batch
	BatchSize int

	// Batch flush interval
	FlushInterval time.Duration

	// Alert debounce window; 0 disables deduplication
	DebounceWindow time.Duration

	// Server ping interval per connection
	HeartbeatInterval time.Duration

	// Read deadline extension granted per pong
	HeartbeatTimeout time.Duration

	// Consecutive failures before a breaker opens
	BreakerFailureThreshold int

	// Wait before a breaker allows a trial call
	BreakerRecoveryTimeout time.Duration

	// Webhook notification endpoint ("" disables the channel)
	WebhookURL string

	// Kafka topic for the alert notification channel ("" disables it)
	AlertTopic string
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig(serviceName string) *Config {
	return &Config{
		ServiceName:             serviceName,
		HTTPPort:                getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:                getEnvAsString("LOG_LEVEL", "info"),
		LogFile:                 getEnvAsString("LOG_FILE", ""),
		KafkaBrokers:            getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		TickTopic:               getEnvAsString("TICK_TOPIC", "market.ticks"),
		ConsumerGroup:           getEnvAsString("CONSUMER_GROUP", "alert-engine-v1"),
		DBPath:                  getEnvAsString("DB_PATH", "data/alert-engine.db"),
		RuleRefreshInterval:     getEnvAsDuration("RULE_REFRESH_INTERVAL_MS", 60*time.Second),
		QueueCapacity:           getEnvAsInt("QUEUE_CAPACITY", 1000),
		QueuePolicy:             getEnvAsString("QUEUE_POLICY", "drop_oldest"),
		EnqueueTimeout:          getEnvAsDuration("ENQUEUE_TIMEOUT_MS", 25*time.Millisecond),
		BatchSize:               getEnvAsInt("BATCH_SIZE", 50),
		FlushInterval:           getEnvAsDuration("FLUSH_INTERVAL_MS", 50*time.Millisecond),
		DebounceWindow:          getEnvAsDuration("DEBOUNCE_WINDOW_MS", 0),
		HeartbeatInterval:       getEnvAsDuration("HEARTBEAT_INTERVAL_MS", 30*time.Second),
		HeartbeatTimeout:        getEnvAsDuration("HEARTBEAT_TIMEOUT_MS", 60*time.Second),
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT_MS", 30*time.Second),
		WebhookURL:              getEnvAsString("NOTIFY_WEBHOOK_URL", ""),
		AlertTopic:              getEnvAsString("NOTIFY_ALERT_TOPIC", ""),
	}
}

// HTTPAddr returns the HTTP server address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// BrokerList returns the Kafka brokers as a trimmed slice.
func (c *Config) BrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration reads a millisecond value from the environment.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
