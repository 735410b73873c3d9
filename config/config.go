package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Queue policy
	DefaultServiceMinutes int           // fallback average service time when a venue has no history
	CalledGracePeriod     time.Duration // called tickets auto-cancel after this
	PromotionRetries      int           // bounded retries on a lost promotion race
	QueuePositionUpdate   time.Duration

	// Crowd level thresholds (minutes of live wait)
	CrowdLowMaxMinutes    int // strictly below this is Low
	CrowdMediumMaxMinutes int // up to and including this is Medium, above is High

	// Rate limiting
	CreateTicketPerMinute int

	// Notification circuit breaker
	BreakerMaxRequests  int
	BreakerTimeout      time.Duration
	BreakerFailureRatio float64

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Queue policy
		DefaultServiceMinutes: getEnvAsInt("DEFAULT_SERVICE_MINUTES", 5),
		CalledGracePeriod:     getEnvAsDuration("CALLED_GRACE_PERIOD", "3m"),
		PromotionRetries:      getEnvAsInt("PROMOTION_RETRIES", 3),
		QueuePositionUpdate:   getEnvAsDuration("QUEUE_POSITION_UPDATE", "2s"),

		// Crowd thresholds
		CrowdLowMaxMinutes:    getEnvAsInt("CROWD_LOW_MAX_MINUTES", 15),
		CrowdMediumMaxMinutes: getEnvAsInt("CROWD_MEDIUM_MAX_MINUTES", 45),

		// Rate limiting
		CreateTicketPerMinute: getEnvAsInt("CREATE_TICKET_PER_MINUTE", 10),

		// Circuit breaker
		BreakerMaxRequests:  getEnvAsInt("BREAKER_MAX_REQUESTS", 100),
		BreakerTimeout:      getEnvAsDuration("BREAKER_TIMEOUT", "60s"),
		BreakerFailureRatio: getEnvAsFloat("BREAKER_FAILURE_RATIO", 0.6),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
