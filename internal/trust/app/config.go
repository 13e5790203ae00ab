package app

import (
	"os"
	"strconv"
	"time"
)

// Replay modes for possession-proof tracking.
const (
	ReplayModeOff    = "off"
	ReplayModeMemory = "memory"
	ReplayModeRedis  = "redis"
)

type Config struct {
	Issuer            string // Optional: issuer claim for session tokens (default: trustd)
	SigningSecret     string // Required unless SigningSecretFile is set: shared HS256 secret
	SigningSecretFile string // Optional: path to a file holding the signing secret

	AccessTokenTTL  time.Duration // Optional: access token horizon (default: 15m)
	RefreshTokenTTL time.Duration // Optional: refresh token horizon (default: 168h)
	ProofTTL        time.Duration // Optional: possession proof horizon (default: 2m)

	ReplayMode    string // Replay tracking: off, memory, redis (default: off)
	RedisAddr     string // Redis address (required for replay mode redis)
	RedisPassword string // Optional: redis password
	RedisDB       int    // Optional: redis database index

	TokenLength        int           // One-time token random bytes (default: 32)
	TokenDefaultTTL    time.Duration // Default one-time token lifetime (default: 15m)
	TokenMaxTTL        time.Duration // Upper bound on requested lifetimes (default: 24h)
	MaxActivePerUser   int           // Active token cap per user+purpose (default: 5)
	UsedTokenRetention time.Duration // How long used tokens are kept (default: 24h)

	DatabaseFile         string        // Optional: path to SQLite database file (default: ./trustd.db)
	StoreTimeout         time.Duration // Deadline per persistence call (default: 5s)
	TrustProxyHeaders    bool          // Honor X-Forwarded-Proto/Host for proof URL binding (default: false)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:            getEnvOrDefault("TRUSTD_ISSUER", "trustd"),
		SigningSecret:     os.Getenv("TRUSTD_SIGNING_SECRET"),
		SigningSecretFile: os.Getenv("TRUSTD_SIGNING_SECRET_FILE"),

		AccessTokenTTL:  getEnvDurationOrDefault("TRUSTD_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDurationOrDefault("TRUSTD_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ProofTTL:        getEnvDurationOrDefault("TRUSTD_PROOF_TTL", 2*time.Minute),

		ReplayMode:    getEnvOrDefault("TRUSTD_REPLAY_MODE", ReplayModeOff),
		RedisAddr:     os.Getenv("TRUSTD_REDIS_ADDR"),
		RedisPassword: os.Getenv("TRUSTD_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("TRUSTD_REDIS_DB", 0),

		TokenLength:        getEnvIntOrDefault("TRUSTD_TOKEN_LENGTH", 32),
		TokenDefaultTTL:    getEnvDurationOrDefault("TRUSTD_TOKEN_DEFAULT_TTL", 15*time.Minute),
		TokenMaxTTL:        getEnvDurationOrDefault("TRUSTD_TOKEN_MAX_TTL", 24*time.Hour),
		MaxActivePerUser:   getEnvIntOrDefault("TRUSTD_MAX_ACTIVE_PER_USER", 5),
		UsedTokenRetention: getEnvDurationOrDefault("TRUSTD_USED_TOKEN_RETENTION", 24*time.Hour),

		DatabaseFile:         getEnvOrDefault("TRUSTD_DATABASE_FILE", "trustd.db"),
		StoreTimeout:         getEnvDurationOrDefault("TRUSTD_STORE_TIMEOUT", 5*time.Second),
		TrustProxyHeaders:    getEnvBoolOrDefault("TRUSTD_TRUST_PROXY_HEADERS", false),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
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

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
