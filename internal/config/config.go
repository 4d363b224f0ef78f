package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// CheckoutConfig holds everything the checkout service reads from the environment
type CheckoutConfig struct {
	Port               string
	StoreID            string
	MerchantServiceURL string
	PaymentServiceURL  string
	RequestTimeout     time.Duration
	ChallengeTimeout   time.Duration
	BulkheadSize       int

	RedisAddr  string
	RedisDB    int
	SessionTTL time.Duration

	// ReturnBaseURL is where wallet and hosted pages send the shopper back to.
	ReturnBaseURL string

	ActivitySink  string
	KafkaBrokers  []string
	ActivityTopic string

	SweepSpec    string
	AbandonAfter time.Duration
}

// SandboxConfig is shared by the merchant and payment sandboxes
type SandboxConfig struct {
	Port string
	// PublicURL is the address browsers use to reach the sandbox's pages.
	PublicURL string
}

func LoadCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		Port:               ":" + GetEnv("SERVER_PORT", "8080"),
		StoreID:            GetEnv("STORE_ID", "store-1"),
		MerchantServiceURL: GetEnv("MERCHANT_SERVICE_URL", "http://localhost:8081"),
		PaymentServiceURL:  GetEnv("PAYMENT_SERVICE_URL", "http://localhost:8082"),
		RequestTimeout:     GetEnvAsDuration("REQUEST_TIMEOUT", 3*time.Second),
		ChallengeTimeout:   GetEnvAsDuration("CHALLENGE_TIMEOUT", 10*time.Second),
		BulkheadSize:       GetEnvAsInt("BULKHEAD_SIZE", 10),
		RedisAddr:          GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            GetEnvAsInt("REDIS_DB", 0),
		SessionTTL:         GetEnvAsDuration("SESSION_TTL", 24*time.Hour),
		ReturnBaseURL:      GetEnv("RETURN_BASE_URL", "http://localhost:8080"),
		ActivitySink:       GetEnv("ACTIVITY_SINK", "http"),
		KafkaBrokers:       GetEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		ActivityTopic:      GetEnv("KAFKA_ACTIVITY_TOPIC", "checkout-activity"),
		SweepSpec:          GetEnv("ATTEMPT_SWEEP_SPEC", "*/30 * * * * *"),
		AbandonAfter:       GetEnvAsDuration("ATTEMPT_ABANDON_AFTER", 15*time.Minute),
	}
}

func LoadSandboxConfig(defaultPort string) SandboxConfig {
	port := GetEnv("SERVER_PORT", defaultPort)
	return SandboxConfig{
		Port:      ":" + port,
		PublicURL: strings.TrimRight(GetEnv("PUBLIC_URL", "http://localhost:"+port), "/"),
	}
}

// ConfigureLogging applies LOG_LEVEL on top of the JSON formatter
func ConfigureLogging() {
	log.SetFormatter(&log.JSONFormatter{})
	level, err := log.ParseLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// GetEnv gets environment variable with fallback
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func GetEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func GetEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// GetEnvAsList splits a comma separated variable, dropping empty entries
func GetEnvAsList(key string, fallback []string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
