// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// Configuration keys. Nested keys map to environment variables through the
// bindings in BindEnv.
const (
	KeyPort             = "port"
	KeyAllowedOrigins   = "allowed_origins"
	KeyMaxMessageSize   = "max_message_size"
	KeyRateBurst        = "rate_limit.burst"
	KeyRateRefill       = "rate_limit.refill_interval"
	KeyStore            = "store"
	KeyRedisHost        = "redis.host"
	KeyRedisPort        = "redis.port"
	KeyRedisPassword    = "redis.password"
	KeyRedisDB          = "redis.db"
	KeyHistoryLimit     = "history.limit"
	KeyHistoryPageSize  = "history.page_size"
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
	KeyShutdownTimeout  = "shutdown_timeout"
	StoreBackendRedis   = "redis"
	StoreBackendMemory  = "memory"
	defaultPort         = ":5000"
	defaultMaxMsgSize   = 4096
	defaultBurst        = 10
	defaultRefill       = time.Second
	defaultRedisHost    = "localhost"
	defaultRedisPort    = 6379
	defaultShutdownWait = 10 * time.Second
)

var envBindings = map[string][]string{
	KeyPort:            {"SERVER_PORT", "PORT"},
	KeyAllowedOrigins:  {"ALLOWED_ORIGINS"},
	KeyMaxMessageSize:  {"MAX_MESSAGE_SIZE"},
	KeyRateBurst:       {"RATE_LIMIT_BURST"},
	KeyRateRefill:      {"RATE_LIMIT_REFILL_INTERVAL"},
	KeyStore:           {"STORE_BACKEND"},
	KeyRedisHost:       {"REDIS_HOST"},
	KeyRedisPort:       {"REDIS_PORT"},
	KeyRedisPassword:   {"REDIS_PASSWORD"},
	KeyRedisDB:         {"REDIS_DB"},
	KeyHistoryLimit:    {"HISTORY_LIMIT"},
	KeyHistoryPageSize: {"HISTORY_PAGE_SIZE"},
	KeyLogLevel:        {"LOG_LEVEL"},
	KeyLogFormat:       {"LOG_FORMAT"},
	KeyShutdownTimeout: {"SHUTDOWN_TIMEOUT"},
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// RedisConfig locates the shared Redis server.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HistoryConfig bounds room history.
type HistoryConfig struct {
	Limit    int
	PageSize int
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Store           string
	Redis           RedisConfig
	History         HistoryConfig
	Log             LogConfig
	ShutdownTimeout time.Duration
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMsgSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefill,
		},
		Store: StoreBackendRedis,
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		History: HistoryConfig{
			Limit:    chat.DefaultHistoryLimit,
			PageSize: chat.DefaultPageSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: defaultShutdownWait,
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := NewConfig()
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyAllowedOrigins, strings.Join(d.AllowedOrigins, ","))
	v.SetDefault(KeyMaxMessageSize, d.MaxMessageSize)
	v.SetDefault(KeyRateBurst, d.RateLimit.Burst)
	v.SetDefault(KeyRateRefill, "1")
	v.SetDefault(KeyStore, d.Store)
	v.SetDefault(KeyRedisHost, d.Redis.Host)
	v.SetDefault(KeyRedisPort, d.Redis.Port)
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyHistoryLimit, d.History.Limit)
	v.SetDefault(KeyHistoryPageSize, d.History.PageSize)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyLogFormat, d.Log.Format)
	v.SetDefault(KeyShutdownTimeout, d.ShutdownTimeout.String())
}

// BindEnv binds every key to its environment variables.
func BindEnv(v *viper.Viper) error {
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment bindings
// in place.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadConfig reads a Config out of v. Values that cannot be parsed or are
// out of range fall back to their defaults.
func LoadConfig(v *viper.Viper) *Config {
	d := NewConfig()
	cfg := &Config{
		Port:           v.GetString(KeyPort),
		AllowedOrigins: parseOrigins(v.GetString(KeyAllowedOrigins)),
		MaxMessageSize: parseMaxMessageSize(v.GetString(KeyMaxMessageSize), d.MaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString(KeyRateBurst), d.RateLimit.Burst),
			RefillInterval: parseRefillInterval(v.GetString(KeyRateRefill), d.RateLimit.RefillInterval),
		},
		Store: strings.ToLower(strings.TrimSpace(v.GetString(KeyStore))),
		Redis: RedisConfig{
			Host:     strings.TrimSpace(v.GetString(KeyRedisHost)),
			Port:     parseIntValue(v.GetString(KeyRedisPort), d.Redis.Port),
			Password: v.GetString(KeyRedisPassword),
			DB:       parseNonNegative(v.GetString(KeyRedisDB), 0),
		},
		History: HistoryConfig{
			Limit:    parseIntValue(v.GetString(KeyHistoryLimit), d.History.Limit),
			PageSize: parseIntValue(v.GetString(KeyHistoryPageSize), d.History.PageSize),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		ShutdownTimeout: parseDuration(v.GetString(KeyShutdownTimeout), d.ShutdownTimeout),
	}
	return sanitizeConfig(cfg)
}

func sanitizeConfig(cfg *Config) *Config {
	d := NewConfig()

	cfg.Port = normalizePort(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = d.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}

	if cfg.Store != StoreBackendRedis && cfg.Store != StoreBackendMemory {
		cfg.Store = d.Store
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = d.Redis.Host
	}

	if cfg.History.Limit <= 0 {
		cfg.History.Limit = d.History.Limit
	}
	if cfg.History.PageSize <= 0 || cfg.History.PageSize > cfg.History.Limit {
		cfg.History.PageSize = min(d.History.PageSize, cfg.History.Limit)
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}

	return cfg
}

// normalizePort accepts both "8080" and ":8080".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ""
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseNonNegative(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts a whole number of seconds or a Go duration.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return parseDuration(value, defaultValue)
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
