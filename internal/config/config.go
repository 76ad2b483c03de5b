package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type AppConfig struct {
	HTTPAddr string

	StoreDriver string
	RedisURL    string
	DatabaseURL string

	JWTSecret      string
	RememberMeDays int
	BcryptCost     int

	CaptchaSecret   string
	CaptchaSitekey  string
	CaptchaEndpoint string

	Site           string
	AllowedOrigins []string
	SecureCookies  bool
	MessagesDir    string
	ShutdownGrace  time.Duration
}

// RememberFor is the lifetime of a remembered login.
func (c *AppConfig) RememberFor() time.Duration {
	return time.Duration(c.RememberMeDays) * 24 * time.Hour
}

// Load reads the environment. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		HTTPAddr:       ":8080",
		StoreDriver:    DriverRedis,
		RememberMeDays: 28,
		BcryptCost:     bcrypt.DefaultCost,
		Site:           "localhost",
		ShutdownGrace:  10 * time.Second,
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.JWTSecret = env("JWT_SECRET")

	cfg.CaptchaSecret = env("FRIENDLY_CAPTCHA_SECRET")
	cfg.CaptchaSitekey = env("FRIENDLY_CAPTCHA_SITEKEY")
	cfg.CaptchaEndpoint = env("FRIENDLY_CAPTCHA_ENDPOINT")

	if v := env("CHECKMATE_SITE"); v != "" {
		cfg.Site = v
	}
	cfg.AllowedOrigins = splitList(env("CORS_ORIGIN_PATTERN"))
	cfg.MessagesDir = env("MESSAGES_DIR")

	if v := env("REMEMBER_ME_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RememberMeDays = n
		}
	}
	if v := env("BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= bcrypt.MinCost && n <= bcrypt.MaxCost {
			cfg.BcryptCost = n
		}
	}
	if v := env("SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SecureCookies = b
		}
	}
	if v := env("SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownGrace = d
		}
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.StoreDriver {
	case DriverRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
