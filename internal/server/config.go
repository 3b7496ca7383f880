package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/gochat-gateway/internal/router"
)

// RateLimitConfig defines the parameters for per-connection action rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds every runtime setting of the gateway process.
type Config struct {
	Addr                    string        `env:"SERVER_ADDR,default=:8080"`
	AllowedOriginsList      string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256"`
	JWTSecret               string        `env:"JWT_SECRET,required=true"`
	JWTIssuer               string        `env:"JWT_ISSUER,default=gochat-gateway"`
	BadgerPath              string        `env:"BADGER_PATH,default=./data"`
	LogLevel                string        `env:"LOG_LEVEL,default=INFO"`
	PresenceBackend         string        `env:"PRESENCE_BACKEND,default=memory"`
	RedisAddr               string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	RedisDB                 int           `env:"REDIS_DB,default=0"`
	MaxContentLength        int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	HistoryDefaultLimit     int           `env:"HISTORY_DEFAULT_LIMIT,default=50"`
	HistoryMaxLimit         int           `env:"HISTORY_MAX_LIMIT,default=100"`
	UserCacheSize           int           `env:"USER_CACHE_SIZE,default=1024"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

func defaultConfig() Config {
	return Config{
		Addr:                    ":8080",
		AllowedOriginsList:      "http://localhost:8080",
		MaxMessageSize:          4096,
		RateLimitBurst:          10,
		RateLimitRefillInterval: time.Second,
		SendBufferSize:          256,
		JWTIssuer:               "gochat-gateway",
		BadgerPath:              "./data",
		LogLevel:                "INFO",
		PresenceBackend:         PresenceMemory,
		RedisAddr:               "localhost:6379",
		MaxContentLength:        4000,
		HistoryDefaultLimit:     50,
		HistoryMaxLimit:         100,
		UserCacheSize:           1024,
		ShutdownTimeout:         10 * time.Second,
	}
}

// NewConfig returns the defaults. JWTSecret is left empty.
func NewConfig() Config {
	return defaultConfig()
}

// NewConfigFromEnv reads the configuration from the process environment.
// Out-of-range values fall back to their defaults.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg = cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) sanitize() Config {
	d := defaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = d.RateLimitRefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = d.MaxContentLength
	}
	if c.HistoryMaxLimit <= 0 {
		c.HistoryMaxLimit = d.HistoryMaxLimit
	}
	if c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		c.HistoryDefaultLimit = min(d.HistoryDefaultLimit, c.HistoryMaxLimit)
	}
	if c.UserCacheSize <= 0 {
		c.UserCacheSize = d.UserCacheSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	c.PresenceBackend = strings.ToLower(strings.TrimSpace(c.PresenceBackend))
	if c.PresenceBackend == "" {
		c.PresenceBackend = d.PresenceBackend
	}
	return c
}

// Validate reports settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.PresenceBackend != PresenceMemory && c.PresenceBackend != PresenceRedis {
		errs = append(errs, fmt.Errorf("PRESENCE_BACKEND must be %q or %q, got %q",
			PresenceMemory, PresenceRedis, c.PresenceBackend))
	}
	return errors.Join(errs...)
}

// AllowedOrigins splits ALLOWED_ORIGINS into its entries.
func (c Config) AllowedOrigins() []string {
	return parseOrigins(c.AllowedOriginsList)
}

// RateLimit returns the per-connection token bucket settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

// Limits returns the message router bounds.
func (c Config) Limits() router.Limits {
	return router.Limits{
		MaxContentLength:    c.MaxContentLength,
		DefaultHistoryLimit: c.HistoryDefaultLimit,
		MaxHistoryLimit:     c.HistoryMaxLimit,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
