package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	SigningKeyFile string // Optional: path to Ed25519 signing key PEM (default: ./trust.key)
	PepperFile     string // Optional: path to password hashing pepper file (default: ./pepper)
	DatabaseFile   string // Optional: path to SQLite database file (default: ./trust.db)

	PendingTokenTTL time.Duration // Optional: pending token lifetime (default: 5m)
	AccessTokenTTL  time.Duration // Optional: access token lifetime (default: 60m)

	LockoutMaxAttempts int           // Optional: failed attempts before lockout (default: 5)
	LockoutDuration    time.Duration // Optional: lockout window (default: 15m)

	LoginRatePerMinute int // Optional: login attempts per origin per minute (default: 10)
	LoginRateBurst     int // Optional: login burst headroom per origin (default: 10)

	AuditRetryDelay time.Duration // Optional: base delay between audit sink retries (default: 1s)

	HashMemoryKiB   int // Optional: Argon2id memory cost in KiB (default: 19456)
	HashIterations  int // Optional: Argon2id time cost (default: 2)
	HashParallelism int // Optional: Argon2id parallelism (default: 1)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)

	Port                 int           // Ops HTTP port for metrics and liveness (default: 9090)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping tick (default: 1m)
	SweepInterval        time.Duration // Integrity sweep cadence (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         os.Getenv("TRUST_ISSUER"),
		SigningKeyFile: getEnvOrDefault("TRUST_SIGNING_KEY_FILE", "trust.key"),
		PepperFile:     getEnvOrDefault("TRUST_PEPPER_FILE", "pepper"),
		DatabaseFile:   getEnvOrDefault("TRUST_DATABASE_FILE", "trust.db"),

		PendingTokenTTL: getEnvDurationOrDefault("TRUST_PENDING_TOKEN_TTL", 5*time.Minute),
		AccessTokenTTL:  getEnvDurationOrDefault("TRUST_ACCESS_TOKEN_TTL", 60*time.Minute),

		LockoutMaxAttempts: getEnvIntOrDefault("TRUST_LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutDuration:    getEnvDurationOrDefault("TRUST_LOCKOUT_DURATION", 15*time.Minute),

		LoginRatePerMinute: getEnvIntOrDefault("TRUST_LOGIN_RATE_PER_MINUTE", 10),
		LoginRateBurst:     getEnvIntOrDefault("TRUST_LOGIN_RATE_BURST", 10),

		AuditRetryDelay: getEnvDurationOrDefault("TRUST_AUDIT_RETRY_DELAY", 1*time.Second),

		HashMemoryKiB:   getEnvIntOrDefault("TRUST_HASH_MEMORY_KIB", 19*1024),
		HashIterations:  getEnvIntOrDefault("TRUST_HASH_ITERATIONS", 2),
		HashParallelism: getEnvIntOrDefault("TRUST_HASH_PARALLELISM", 1),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		Port:                 getEnvIntOrDefault("PORT", 9090),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Minute),
		SweepInterval:        getEnvDurationOrDefault("TRUST_SWEEP_INTERVAL", 1*time.Hour),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "sirona-trust"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
