package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the decoder service
type Config struct {
	// NodeID identifies this decoder instance in the session registry
	NodeID string

	// HTTPPort serves the ops endpoints (/health, /sessions)
	HTTPPort int

	RedisURL string
	NATSURL  string

	// Per-protocol listening ports; 0 disables the listener
	PortH02  int
	PortGT06 int

	// IdleTimeout closes a connection with no bytes for this long
	IdleTimeout time.Duration

	// DrainGrace bounds how long shutdown waits for sessions to finish
	DrainGrace time.Duration

	// PublishMaxAttempts and PublishBackoffBase tune the publish retry loop
	PublishMaxAttempts int
	PublishBackoffBase time.Duration

	// BrokerStartupFatal makes an unreachable broker a startup failure
	// instead of connecting in the background
	BrokerStartupFatal bool

	// AlarmPublishFatal escalates an exhausted alarm publish to a
	// session-fatal error instead of log-and-drop
	AlarmPublishFatal bool

	// CommitHash is reported by the debug healthcheck
	CommitHash string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		NodeID:             getEnv("NODE_ID", "node-01"),
		HTTPPort:           getEnvAsInt("HTTP_PORT", 8081),
		RedisURL:           getEnv("REDIS_URL", ""),
		NATSURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		PortH02:            getEnvAsInt("PORT_H02", 5020),
		PortGT06:           getEnvAsInt("PORT_GT06", 5023),
		IdleTimeout:        getEnvAsDuration("IDLE_TIMEOUT", 300*time.Second),
		DrainGrace:         getEnvAsDuration("DRAIN_GRACE", 5*time.Second),
		PublishMaxAttempts: getEnvAsInt("PUBLISH_MAX_ATTEMPTS", 5),
		PublishBackoffBase: getEnvAsDuration("PUBLISH_BACKOFF_BASE", 100*time.Millisecond),
		BrokerStartupFatal: getEnvAsBool("BROKER_STARTUP_FATAL", true),
		AlarmPublishFatal:  getEnvAsBool("ALARM_PUBLISH_FATAL", false),
		CommitHash:         getEnv("COMMIT_HASH", "unknown"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
