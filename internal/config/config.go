// Package config loads service settings from BREWLINE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const prefix = "BREWLINE_"

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PGDSN           string
	AutoMigrate     bool
	RedisURL        string
	CacheSize       int
	CacheTTL        time.Duration
	AuthSecret      string
	AuthIssuer      string
	LogLevel        string
	RateBurst       int
	RatePerSecond   float64
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// AuthEnabled reports whether bearer tokens are required.
func (c *Config) AuthEnabled() bool { return c.AuthSecret != "" }

// CacheEnabled reports whether check results are cached.
func (c *Config) CacheEnabled() bool { return c.CacheTTL > 0 }

// Load reads the given .env files (default ".env"; missing files are
// skipped), then the environment. Values already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var l loader
	cfg := &Config{
		HTTPAddr:        l.str("HTTP_ADDR", ":8080"),
		GRPCAddr:        l.str("GRPC_ADDR", ":9090"),
		PGDSN:           l.str("PG_DSN", ""),
		AutoMigrate:     l.bool("AUTO_MIGRATE", true),
		RedisURL:        l.str("REDIS_URL", ""),
		CacheSize:       l.int("CACHE_SIZE", 4096),
		CacheTTL:        l.duration("CACHE_TTL", 30*time.Second),
		AuthSecret:      l.str("AUTH_SECRET", ""),
		AuthIssuer:      l.str("AUTH_ISSUER", "brewline"),
		LogLevel:        strings.ToLower(l.str("LOG_LEVEL", "info")),
		RateBurst:       l.int("RATE_BURST", 50),
		RatePerSecond:   l.float("RATE_PER_SECOND", 25),
		MaxBodyBytes:    int64(l.int("MAX_BODY_BYTES", 1<<20)),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.GRPCAddr != "" && c.GRPCAddr == c.HTTPAddr {
		errs = append(errs, errors.New("GRPC_ADDR must differ from HTTP_ADDR"))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_SIZE must be positive, got %d", c.CacheSize))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.RateBurst < 0 || c.RatePerSecond < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 16 {
		errs = append(errs, errors.New("AUTH_SECRET must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}

// loader reads prefixed variables and remembers values that fail to parse.
type loader struct {
	errs []error
}

func (l *loader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(prefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *loader) str(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l *loader) bool(key string, def bool) bool {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return b
}

func (l *loader) int(key string, def int) int {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (l *loader) float(key string, def float64) float64 {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return f
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return d
}
