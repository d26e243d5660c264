package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
	ResetTokenTTL time.Duration
	VerifyTokenTTL time.Duration

	MaxFailedLogins int
	LockoutDuration time.Duration

	CORSOrigins  []string
	RateLimitRPM int

	ThrottleAuthLimit       int
	ThrottleAuthWindow      time.Duration
	ThrottleSensitiveLimit  int
	ThrottleSensitiveWindow time.Duration
	ThrottleAPILimit        int
	ThrottleAPIWindow       time.Duration

	SMTPAddr    string
	SMTPFrom    string
	PublicURL   string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:   getDuration("JWT_ACCESS_TTL", 24*time.Hour),
		JWTRefreshTTL:  getDuration("JWT_REFRESH_TTL", 720*time.Hour),
		ResetTokenTTL:  getDuration("RESET_TOKEN_TTL", 24*time.Hour),
		VerifyTokenTTL: getDuration("VERIFY_TOKEN_TTL", 24*time.Hour),

		MaxFailedLogins: getInt("MAX_FAILED_LOGINS", 5),
		LockoutDuration: getDuration("LOCKOUT_DURATION", 15*time.Minute),

		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM: getInt("RATE_LIMIT_RPM", 300),

		ThrottleAuthLimit:       getInt("THROTTLE_AUTH_LIMIT", 20),
		ThrottleAuthWindow:      getDuration("THROTTLE_AUTH_WINDOW", time.Minute),
		ThrottleSensitiveLimit:  getInt("THROTTLE_SENSITIVE_LIMIT", 30),
		ThrottleSensitiveWindow: getDuration("THROTTLE_SENSITIVE_WINDOW", time.Minute),
		ThrottleAPILimit:        getInt("THROTTLE_API_LIMIT", 1000),
		ThrottleAPIWindow:       getDuration("THROTTLE_API_WINDOW", time.Hour),

		SMTPAddr:  strings.TrimSpace(os.Getenv("SMTP_ADDR")),
		SMTPFrom:  getEnv("SMTP_FROM", "no-reply@eduplatform.local"),
		PublicURL: getEnv("PUBLIC_URL", "http://localhost:8080"),

		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.MaxFailedLogins <= 0 {
		return fmt.Errorf("MAX_FAILED_LOGINS must be positive")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
